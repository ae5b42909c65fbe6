package adapter

import (
	"errors"
	"sort"

	"github.com/kartoza/funcatlas/internal/atlas"
)

// Stage keys recorded in an ErrorMap
const (
	InputParameterError   = "input_parameter_error"
	AtlasFileError        = "atlas_file_error"
	NeuronIDsError        = "get_neuron_ids_error"
	StandardStimulusError = "get_standard_stimulus_error"
	ResponsesError        = "get_responses_error"
	PlotHTMLError         = "plot_html_data_error"
	PlotURLError          = "plot_url_error"
	PlotCodeSnippetError  = "plot_code_snippet_error"
)

var (
	// ErrAtlasNotFound is recorded when the snapshot for a strain is missing
	ErrAtlasNotFound = errors.New("input atlas file was not found")
	// ErrStimInResponders is returned when the stimulated neuron is also listed as a responder
	ErrStimInResponders = errors.New("stimulated neuron cannot also be a responding neuron")
	// ErrUnknownStimulusType is returned for stimulus types outside the closed set
	ErrUnknownStimulusType = atlas.ErrUnknownStimType
)

// ErrorMap collects failures by stage so a page can render whatever succeeded.
// A nil or empty map means no stage failed.
type ErrorMap map[string]error

// Merge returns a new map with the entries of m followed by others; later entries win
func (m ErrorMap) Merge(others ...ErrorMap) ErrorMap {
	out := make(ErrorMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// Has reports whether stage failed
func (m ErrorMap) Has(stage string) bool {
	_, ok := m[stage]
	return ok
}

// Keys returns the failed stages in sorted order
func (m ErrorMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Messages flattens the map for templates and JSON
func (m ErrorMap) Messages() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.Error()
	}
	return out
}

func single(stage string, err error) ErrorMap {
	return ErrorMap{stage: err}
}
