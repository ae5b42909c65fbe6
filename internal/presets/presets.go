// Package presets stores named parameter sets that can be shared as short links.
package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kartoza/funcatlas/internal/params"
)

// ErrNotFound is returned for unknown preset ids
var ErrNotFound = errors.New("preset not found")

// Preset is a saved parameter set
type Preset struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Query       string  `json:"query"`
	Thumbnail   *string `json:"thumbnail"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

// Values decodes the stored query
func (p *Preset) Values() (url.Values, error) {
	return url.ParseQuery(p.Query)
}

// Store handles preset persistence, one JSON file per preset
type Store struct {
	dataDir    string
	presetsDir string
	imagesDir  string
}

// NewStore creates a preset store under dataDir
func NewStore(dataDir string) (*Store, error) {
	presetsDir := filepath.Join(dataDir, "presets")
	imagesDir := filepath.Join(dataDir, "images")

	if err := os.MkdirAll(presetsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create presets directory: %w", err)
	}
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}

	return &Store{
		dataDir:    dataDir,
		presetsDir: presetsDir,
		imagesDir:  imagesDir,
	}, nil
}

// ImagesDir is where preset thumbnails are written
func (s *Store) ImagesDir() string {
	return s.imagesDir
}

// List returns all presets, newest first
func (s *Store) List() ([]*Preset, error) {
	entries, err := os.ReadDir(s.presetsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets directory: %w", err)
	}

	presets := []*Preset{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			preset, err := s.loadPreset(entry.Name())
			if err != nil {
				continue // Skip unreadable presets
			}
			presets = append(presets, preset)
		}
	}

	sort.SliceStable(presets, func(i, j int) bool {
		return presets[i].CreatedAt > presets[j].CreatedAt
	})
	return presets, nil
}

// Get retrieves a preset by id
func (s *Store) Get(id string) (*Preset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.loadPreset(id + ".json")
}

// Create saves a new preset for the given parameters. An optional SVG
// thumbnail is written next to it.
func (s *Store) Create(title string, values url.Values, thumbnail []byte) (*Preset, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	preset := &Preset{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(title),
		Query:     values.Encode(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if preset.Title == "" {
		preset.Title = defaultTitle(values)
	}

	if len(thumbnail) > 0 {
		imagePath, err := s.saveThumbnail(preset.ID, thumbnail)
		if err != nil {
			return nil, fmt.Errorf("failed to save thumbnail: %w", err)
		}
		preset.Thumbnail = &imagePath
	}

	if err := s.savePreset(preset); err != nil {
		return nil, err
	}
	return preset, nil
}

// Update changes the title and description of a preset
func (s *Store) Update(id string, updates *Preset) (*Preset, error) {
	preset, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if updates.Title != "" {
		preset.Title = updates.Title
	}
	if updates.Description != "" {
		preset.Description = updates.Description
	}
	preset.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.savePreset(preset); err != nil {
		return nil, err
	}
	return preset, nil
}

// Delete removes a preset and its thumbnail
func (s *Store) Delete(id string) error {
	preset, err := s.Get(id)
	if err != nil {
		return err
	}

	if preset.Thumbnail != nil && strings.HasPrefix(*preset.Thumbnail, "/data/images/") {
		imagePath := filepath.Join(s.imagesDir, strings.TrimPrefix(*preset.Thumbnail, "/data/images/"))
		os.Remove(imagePath) // Ignore errors
	}

	return os.Remove(filepath.Join(s.presetsDir, preset.ID+".json"))
}

func (s *Store) loadPreset(filename string) (*Preset, error) {
	data, err := os.ReadFile(filepath.Join(s.presetsDir, filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filename, ".json"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}

	var preset Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("failed to parse preset: %w", err)
	}
	return &preset, nil
}

func (s *Store) savePreset(preset *Preset) error {
	data, err := json.MarshalIndent(preset, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preset: %w", err)
	}

	filename := filepath.Join(s.presetsDir, preset.ID+".json")
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write preset file: %w", err)
	}
	return nil
}

// saveThumbnail writes an SVG chart and returns the URL path it is served at
func (s *Store) saveThumbnail(presetID string, svg []byte) (string, error) {
	if !strings.Contains(string(svg[:min(len(svg), 512)]), "<svg") {
		return "", errors.New("thumbnail is not an SVG document")
	}

	filename := presetID + ".svg"
	if err := os.WriteFile(filepath.Join(s.imagesDir, filename), svg, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return "/data/images/" + filename, nil
}

func defaultTitle(values url.Values) string {
	stim := values.Get(params.StimNeuID)
	if stim == "" {
		return "Untitled preset"
	}
	return fmt.Sprintf("%s %s stimulus (%s)", stim, values.Get(params.StimType), values.Get(params.StrainType))
}
