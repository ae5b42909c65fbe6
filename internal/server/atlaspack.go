package server

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kartoza/funcatlas/internal/config"
	"github.com/kartoza/funcatlas/internal/httputil"
	"github.com/kartoza/funcatlas/internal/models"
	"github.com/kartoza/funcatlas/internal/neurons"
)

// atlasPackNeuronList is the optional neuron list shipped at the pack root
const atlasPackNeuronList = "neurons.tsv"

// atlasPackManifest describes the contents of an atlas pack zip
type atlasPackManifest struct {
	Format      string `json:"format"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Created     string `json:"created"`
}

// handleAtlasPackStatus reports the media folder in use and its snapshots
func (s *Server) handleAtlasPackStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := config.LoadSettings(s.cfg.SettingsFile)
	if err != nil {
		httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"installed": false,
			"atlases":   s.adapter.Snapshots(),
			"error":     err.Error(),
		})
		return
	}

	if settings.MediaDir == "" {
		httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"installed": false,
			"atlases":   s.adapter.Snapshots(),
		})
		return
	}

	// Check if path still exists
	if _, err := os.Stat(settings.MediaDir); err != nil {
		httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"installed": false,
			"atlases":   s.adapter.Snapshots(),
			"error":     "atlas pack path no longer exists",
		})
		return
	}

	// Try to read manifest
	var manifest atlasPackManifest
	if data, err := os.ReadFile(filepath.Join(settings.MediaDir, "manifest.json")); err == nil {
		json.Unmarshal(data, &manifest)
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"installed":   true,
		"path":        settings.MediaDir,
		"version":     manifest.Version,
		"description": manifest.Description,
		"atlases":     s.adapter.Snapshots(),
	})
}

// handleAtlasPackInstall extracts an atlas pack zip, loads its neuron list and
// switches the adapter to its snapshots
func (s *Server) handleAtlasPackInstall(w http.ResponseWriter, r *http.Request) {
	var req models.AtlasPackInstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Path == "" {
		httputil.RespondError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate file exists and is a zip
	if _, err := os.Stat(req.Path); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, fmt.Sprintf("file not found: %s", req.Path))
		return
	}
	if !strings.HasSuffix(strings.ToLower(req.Path), ".zip") {
		httputil.RespondError(w, http.StatusBadRequest, "file must be a .zip archive")
		return
	}

	extractDir := filepath.Join(s.cfg.DataDir, "atlaspacks")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("could not create directory: %v", err))
		return
	}

	packDir, err := extractAtlasPack(req.Path, extractDir)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("extraction failed: %v", err))
		return
	}

	// Validate extracted contents
	atlasDir := filepath.Join(packDir, "atlas")
	if info, err := os.Stat(atlasDir); err != nil || !info.IsDir() {
		httputil.RespondError(w, http.StatusBadRequest, "invalid atlas pack: missing atlas/ directory")
		return
	}

	created := 0
	neuronList := filepath.Join(packDir, atlasPackNeuronList)
	if _, err := os.Stat(neuronList); err == nil {
		if s.directory == nil {
			httputil.RespondError(w, http.StatusServiceUnavailable, "neuron directory not available")
			return
		}
		res, err := neurons.LoadFile(r.Context(), s.directory, neuronList)
		if err != nil {
			httputil.RespondError(w, http.StatusBadRequest, fmt.Sprintf("invalid neuron list: %v", err))
			return
		}
		created = res.Created
	}

	// Save settings
	settings, _ := config.LoadSettings(s.cfg.SettingsFile)
	settings.MediaDir = packDir
	if err := config.SaveSettings(s.cfg.SettingsFile, settings); err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("could not save settings: %v", err))
		return
	}

	s.adapter.SetAtlasDir(atlasDir)

	log.Printf("Atlas pack installed: %s", packDir)
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"installed":       true,
		"path":            packDir,
		"atlases":         s.adapter.Snapshots(),
		"neurons_created": created,
	})
}

// extractAtlasPack unzips an atlas pack archive into the target directory.
// Returns the path to the extracted pack root directory.
func extractAtlasPack(zipPath, targetDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("could not open zip: %w", err)
	}
	defer r.Close()

	// Find the common root directory name from the zip
	var rootDir string
	for _, f := range r.File {
		parts := strings.SplitN(f.Name, "/", 2)
		if len(parts) > 0 {
			rootDir = parts[0]
			break
		}
	}
	if rootDir == "" {
		return "", errors.New("empty zip archive")
	}
	if rootDir == "." || rootDir == ".." {
		return "", fmt.Errorf("illegal root directory in zip: %s", rootDir)
	}
	packDir := filepath.Join(targetDir, rootDir)

	// Sanitize paths to prevent zip slip before touching the target
	for _, f := range r.File {
		destPath := filepath.Join(targetDir, f.Name)
		if !strings.HasPrefix(destPath, filepath.Clean(targetDir)+string(os.PathSeparator)) {
			return "", fmt.Errorf("illegal file path in zip: %s", f.Name)
		}
	}

	// Remove existing extraction if present
	if err := os.RemoveAll(packDir); err != nil {
		return "", fmt.Errorf("could not remove previous pack: %w", err)
	}

	for _, f := range r.File {
		destPath := filepath.Join(targetDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return "", fmt.Errorf("could not create directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return "", fmt.Errorf("could not create directory: %w", err)
		}

		if err := extractFile(f, destPath); err != nil {
			return "", err
		}
	}

	return packDir, nil
}

func extractFile(f *zip.File, destPath string) error {
	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer outFile.Close()

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("could not open zip entry: %w", err)
	}
	defer rc.Close()

	if _, err := io.Copy(outFile, rc); err != nil {
		return fmt.Errorf("could not extract file: %w", err)
	}
	return nil
}
