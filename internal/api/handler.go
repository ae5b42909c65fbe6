package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/kartoza/funcatlas/internal/adapter"
	"github.com/kartoza/funcatlas/internal/atlas"
	"github.com/kartoza/funcatlas/internal/config"
	"github.com/kartoza/funcatlas/internal/httputil"
	"github.com/kartoza/funcatlas/internal/models"
	"github.com/kartoza/funcatlas/internal/neurons"
	"github.com/kartoza/funcatlas/internal/params"
	"github.com/kartoza/funcatlas/internal/presets"
	"gonum.org/v1/gonum/mat"
)

// Handler provides HTTP API endpoints
type Handler struct {
	directory   *neurons.Store
	adapter     *adapter.Adapter
	presetStore *presets.Store
	cfg         config.Config
}

// NewHandler creates a new API handler. Any store may be nil when it failed to open.
func NewHandler(
	directory *neurons.Store,
	fa *adapter.Adapter,
	presetStore *presets.Store,
	cfg config.Config,
) *Handler {
	return &Handler{
		directory:   directory,
		adapter:     fa,
		presetStore: presetStore,
		cfg:         cfg,
	}
}

// RegisterRoutes sets up all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Health and info
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/info", h.handleInfo).Methods("GET")

	// Neurons and stimuli
	r.HandleFunc("/neurons", h.HandleNeurons).Methods("GET")
	r.HandleFunc("/directory", h.handleDirectory).Methods("GET")
	r.HandleFunc("/stim-types", h.handleStimTypes).Methods("GET")
	r.HandleFunc("/responses", h.handleResponses).Methods("GET")

	// Presets
	r.HandleFunc("/presets", h.handleListPresets).Methods("GET")
	r.HandleFunc("/presets", h.handleCreatePreset).Methods("POST")
	r.HandleFunc("/presets/{id}", h.handleGetPreset).Methods("GET")
	r.HandleFunc("/presets/{id}", h.handleUpdatePreset).Methods("PUT")
	r.HandleFunc("/presets/{id}", h.handleDeletePreset).Methods("DELETE")
}

// handleHealth returns server health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo returns server information
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"version":          h.cfg.Version,
		"directory_loaded": h.directory != nil,
		"presets_loaded":   h.presetStore != nil,
		"atlases":          []string{},
	}
	if h.adapter != nil {
		info["atlases"] = h.adapter.Snapshots()
	}
	if h.directory != nil {
		if count, err := h.directory.Count(r.Context()); err == nil {
			info["neurons"] = count
		}
	}
	httputil.RespondJSON(w, http.StatusOK, info)
}

// HandleNeurons lists the stimulable neurons of a strain's atlas. Atlas
// failures give an empty list.
func (h *Handler) HandleNeurons(w http.ResponseWriter, r *http.Request) {
	if h.adapter == nil {
		httputil.RespondJSON(w, http.StatusOK, models.NeuronListResponse{Neurons: []string{}})
		return
	}
	ids, errs := h.adapter.NeuronIDs(r.URL.Query().Get(params.StrainType))
	for _, stage := range errs.Keys() {
		log.Printf("Warning: %s: %v", stage, errs[stage])
	}
	httputil.RespondJSON(w, http.StatusOK, models.NeuronListResponse{Neurons: ids})
}

// handleDirectory returns every neuron name in the directory
func (h *Handler) handleDirectory(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		httputil.RespondJSON(w, http.StatusOK, models.DirectoryResponse{Neurons: []string{}})
		return
	}
	names, err := h.directory.Names(r.Context())
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	httputil.RespondJSON(w, http.StatusOK, models.DirectoryResponse{Count: len(names), Neurons: names})
}

// handleStimTypes describes the stimulus types and their parameters
func (h *Handler) handleStimTypes(w http.ResponseWriter, r *http.Request) {
	types := make([]models.StimTypeInfo, 0, len(atlas.StimTypes()))
	for _, st := range atlas.StimTypes() {
		kwargs, _ := atlas.StandardStimKwargs(st)
		types = append(types, models.StimTypeInfo{Name: string(st), Kwargs: kwargs})
	}
	httputil.RespondJSON(w, http.StatusOK, types)
}

// handleResponses computes responses for the query parameters. Stage
// failures are reported in the body; bad input gives 400.
func (h *Handler) handleResponses(w http.ResponseWriter, r *http.Request) {
	if h.adapter == nil {
		httputil.RespondError(w, http.StatusServiceUnavailable, "no atlas configured")
		return
	}

	q := r.URL.Query()
	resp, errs := h.adapter.ComputeResponses(q)
	out := models.ResponsesResponse{
		Labels:      resp.Labels,
		Confidences: resp.Confidences,
		Data:        [][]float64{},
		Message:     resp.Message,
	}
	if out.Labels == nil {
		out.Labels = []atlas.Label{}
		out.Confidences = []float64{}
	}
	rows, _ := resp.Dims()
	for i := 0; i < rows; i++ {
		out.Data = append(out.Data, mat.Row(nil, i, resp.Data))
	}

	status := http.StatusOK
	if errs.Has(adapter.InputParameterError) {
		status = http.StatusBadRequest
	} else if query, queryErrs := adapter.ShareableQuery(q); len(queryErrs) == 0 {
		out.Query = query
		if filtered, _ := adapter.FilterToRequired(q); filtered != nil {
			out.DT = stepSize(filtered)
		}
	}
	if len(errs) > 0 {
		out.Errors = errs.Messages()
	}
	httputil.RespondJSON(w, status, out)
}

func stepSize(p url.Values) float64 {
	nt, err := strconv.Atoi(p.Get(params.NT))
	if err != nil || nt < 1 {
		return 0
	}
	tMax, err := strconv.ParseFloat(p.Get(params.TMax), 64)
	if err != nil {
		return 0
	}
	return adapter.StepSize(tMax, nt)
}

// handleListPresets returns saved presets, newest first
func (h *Handler) handleListPresets(w http.ResponseWriter, r *http.Request) {
	if h.presetStore == nil {
		httputil.RespondJSON(w, http.StatusOK, []*presets.Preset{})
		return
	}
	list, err := h.presetStore.List()
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.RespondJSON(w, http.StatusOK, list)
}

// handleCreatePreset saves the required subset of a query as a preset
func (h *Handler) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	if h.presetStore == nil {
		httputil.RespondError(w, http.StatusServiceUnavailable, "preset store not available")
		return
	}

	var req models.PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	values, err := url.ParseQuery(req.Query)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid query")
		return
	}
	filtered, errs := adapter.FilterToRequired(values)
	if len(errs) > 0 {
		httputil.RespondError(w, http.StatusBadRequest, errs[adapter.InputParameterError].Error())
		return
	}

	preset, err := h.presetStore.Create(req.Title, filtered, nil)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Description != "" {
		if preset, err = h.presetStore.Update(preset.ID, &presets.Preset{Description: req.Description}); err != nil {
			httputil.RespondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	httputil.RespondJSON(w, http.StatusCreated, preset)
}

// handleGetPreset returns one preset
func (h *Handler) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	if h.presetStore == nil {
		httputil.RespondError(w, http.StatusNotFound, "preset store not available")
		return
	}
	preset, err := h.presetStore.Get(mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, preset)
}

// handleUpdatePreset changes a preset's title or description
func (h *Handler) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	if h.presetStore == nil {
		httputil.RespondError(w, http.StatusNotFound, "preset store not available")
		return
	}
	var req models.PresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	preset, err := h.presetStore.Update(mux.Vars(r)["id"], &presets.Preset{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, preset)
}

// handleDeletePreset removes a preset
func (h *Handler) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if h.presetStore == nil {
		httputil.RespondError(w, http.StatusNotFound, "preset store not available")
		return
	}
	if err := h.presetStore.Delete(mux.Vars(r)["id"]); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, presets.ErrNotFound) {
		httputil.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.RespondError(w, http.StatusInternalServerError, err.Error())
}
