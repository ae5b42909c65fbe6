package models

import "github.com/kartoza/funcatlas/internal/atlas"

// NeuronListResponse lists neuron ids for a selection widget
type NeuronListResponse struct {
	Neurons []string `json:"neurons"`
}

// DirectoryResponse describes the neuron directory
type DirectoryResponse struct {
	Count   int      `json:"count"`
	Neurons []string `json:"neurons"`
}

// StimTypeInfo describes one stimulus type and its keyword parameters
type StimTypeInfo struct {
	Name   string            `json:"name"`
	Kwargs []atlas.StimKwarg `json:"kwargs"`
}

// ResponsesResponse carries computed responses and any stage errors
type ResponsesResponse struct {
	Labels      []atlas.Label     `json:"labels"`
	Confidences []float64         `json:"confidences"`
	Data        [][]float64       `json:"data"`
	DT          float64           `json:"dt"`
	Message     string            `json:"message,omitempty"`
	Query       string            `json:"query,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// PresetRequest creates or updates a preset
type PresetRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Query       string `json:"query,omitempty"`
}

// AtlasPackInstallRequest names a local atlas pack archive
type AtlasPackInstallRequest struct {
	Path string `json:"path"`
}
