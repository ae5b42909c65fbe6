package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/kartoza/funcatlas/internal/adapter"
	"github.com/kartoza/funcatlas/internal/atlas"
	"github.com/kartoza/funcatlas/internal/config"
	"github.com/kartoza/funcatlas/internal/models"
	"github.com/kartoza/funcatlas/internal/neurons"
	"github.com/kartoza/funcatlas/internal/presets"
)

const neuronListPath = "../../testdata/worm_neuron_list.tsv"

func newTestHandler() *Handler {
	cfg := config.Config{
		Port:    8080,
		DataDir: "/tmp/test",
		Version: "test",
	}
	return NewHandler(nil, nil, nil, cfg)
}

// newLoadedHandler wires a directory loaded from the fixture, a synthetic
// wild-type atlas over the same neurons and an empty preset store
func newLoadedHandler(t *testing.T) *Handler {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	directory, err := neurons.NewStore(ctx, filepath.Join(dir, "funcatlas.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { directory.Close() })
	if _, err := neurons.LoadFile(ctx, directory, neuronListPath); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	names, err := directory.Names(ctx)
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}

	atlasDir := filepath.Join(dir, "media", "atlas")
	fa := atlas.Synthesize(adapter.WildType, names, 7, 0.05)
	for _, resp := range []string{"AVAR", "ASEL", "AWAL"} {
		if err := fa.SetKernel(resp, "ADAL", atlas.Kernel{Gain: 1, TauRise: 0.5, TauDecay: 2, Confidence: 0.9}); err != nil {
			t.Fatalf("SetKernel failed: %v", err)
		}
	}
	if err := fa.Save(filepath.Join(atlasDir, "wild-type.pickle")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	presetStore, err := presets.NewStore(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("presets.NewStore failed: %v", err)
	}

	return NewHandler(directory, adapter.New(atlasDir), presetStore, config.Config{Version: "test"})
}

func serve(h *Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := serve(newTestHandler(), "GET", "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	json.NewDecoder(w.Body).Decode(&response)

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestInfoEndpoint(t *testing.T) {
	w := serve(newTestHandler(), "GET", "/info", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	json.NewDecoder(w.Body).Decode(&response)

	if response["version"] != "test" {
		t.Errorf("Expected version 'test', got '%v'", response["version"])
	}
	if response["directory_loaded"] != false {
		t.Errorf("Expected no directory, got %v", response["directory_loaded"])
	}
}

func TestInfoEndpointLoaded(t *testing.T) {
	w := serve(newLoadedHandler(t), "GET", "/info", nil)

	var response map[string]interface{}
	json.NewDecoder(w.Body).Decode(&response)

	if response["neurons"] != float64(300) {
		t.Errorf("Expected 300 neurons, got %v", response["neurons"])
	}
	atlases, _ := response["atlases"].([]interface{})
	if len(atlases) != 1 || atlases[0] != "wild-type.pickle" {
		t.Errorf("Expected wild-type snapshot, got %v", response["atlases"])
	}
}

func TestNeuronsEndpoint(t *testing.T) {
	h := newLoadedHandler(t)

	for _, strain := range []string{"wild-type", "daf-2", ""} {
		w := serve(h, "GET", "/neurons?strain_type="+strain, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%q: expected status 200, got %d", strain, w.Code)
		}
		var response models.NeuronListResponse
		json.NewDecoder(w.Body).Decode(&response)

		found := false
		for _, id := range response.Neurons {
			found = found || id == "ADAL"
		}
		if !found {
			t.Errorf("%q: expected ADAL among stimulable neurons", strain)
		}
	}
}

func TestNeuronsEndpointMissingAtlas(t *testing.T) {
	h := newLoadedHandler(t)
	w := serve(h, "GET", "/neurons?strain_type=unc-31", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"neurons":[]}` {
		t.Errorf("Expected empty neuron list, got %s", body)
	}

	w = serve(newTestHandler(), "GET", "/neurons", nil)
	if body := strings.TrimSpace(w.Body.String()); body != `{"neurons":[]}` {
		t.Errorf("Expected empty neuron list without atlas, got %s", body)
	}
}

func TestDirectoryEndpoint(t *testing.T) {
	w := serve(newLoadedHandler(t), "GET", "/directory", nil)

	var response models.DirectoryResponse
	json.NewDecoder(w.Body).Decode(&response)

	if response.Count != 300 || len(response.Neurons) != 300 {
		t.Errorf("Expected 300 neurons, got %d", response.Count)
	}
	for i := 1; i < len(response.Neurons); i++ {
		if response.Neurons[i-1] > response.Neurons[i] {
			t.Fatalf("Directory not sorted at %d: %s > %s", i, response.Neurons[i-1], response.Neurons[i])
		}
	}
}

func TestStimTypesEndpoint(t *testing.T) {
	w := serve(newTestHandler(), "GET", "/stim-types", nil)

	var response []models.StimTypeInfo
	json.NewDecoder(w.Body).Decode(&response)

	if len(response) != 4 || response[0].Name != "realistic" {
		t.Fatalf("Unexpected stim types %+v", response)
	}
	if len(response[0].Kwargs) != 2 || response[0].Kwargs[0].Name != "tau1" {
		t.Errorf("Unexpected realistic kwargs %+v", response[0].Kwargs)
	}
}

func TestResponsesEndpoint(t *testing.T) {
	h := newLoadedHandler(t)
	target := "/responses?strain_type=wild-type&stim_type=rectangular&stim_neu_id=ADAL" +
		"&resp_neu_ids=AVAR&resp_neu_ids=ASEL&resp_neu_ids=AWAL&nt=200&t_max=20&top_n=None&duration=2"
	w := serve(h, "GET", target, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var response models.ResponsesResponse
	json.NewDecoder(w.Body).Decode(&response)

	if len(response.Labels) != 3 || len(response.Data) != 3 || len(response.Data[0]) != 200 {
		t.Errorf("Expected 3x200 responses, got %d labels and %d rows", len(response.Labels), len(response.Data))
	}
	if response.DT != 0.1 {
		t.Errorf("Expected dt 0.1, got %v", response.DT)
	}
	if !strings.Contains(response.Query, "resp_neu_ids=AVAR&resp_neu_ids=ASEL") {
		t.Errorf("Unexpected query %s", response.Query)
	}
	if len(response.Errors) != 0 {
		t.Errorf("Unexpected errors %v", response.Errors)
	}
}

func TestResponsesEndpointBadInput(t *testing.T) {
	w := serve(newLoadedHandler(t), "GET", "/responses?stim_type=square", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	var response models.ResponsesResponse
	json.NewDecoder(w.Body).Decode(&response)
	if _, ok := response.Errors[adapter.InputParameterError]; !ok {
		t.Errorf("Expected %s, got %v", adapter.InputParameterError, response.Errors)
	}

	w = serve(newTestHandler(), "GET", "/responses", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without atlas, got %d", w.Code)
	}
}

func TestResponsesEndpointInvalidParameters(t *testing.T) {
	h := newLoadedHandler(t)
	base := "/responses?strain_type=wild-type&stim_neu_id=ADAL&resp_neu_ids=AVAR&top_n=None"

	tests := []struct {
		name  string
		query string
	}{
		{"frequency above range", "&stim_type=sinusoidal&frequency=5&phi0=0&nt=200&t_max=20"},
		{"frequency not finite", "&stim_type=sinusoidal&frequency=NaN&phi0=0&nt=200&t_max=20"},
		{"t_max shorter than duration", "&stim_type=rectangular&duration=50&nt=200&t_max=1"},
		{"t_max negative", "&stim_type=rectangular&duration=2&nt=200&t_max=-20"},
		{"nt above limit", "&stim_type=rectangular&duration=2&nt=500000&t_max=20"},
		{"stimulated neuron among responders", "&stim_type=rectangular&duration=2&nt=200&t_max=20&resp_neu_ids=ADAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(h, "GET", base+tc.query, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d", w.Code)
			}
			var response models.ResponsesResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Expected a JSON body, got %v", err)
			}
			if _, ok := response.Errors[adapter.InputParameterError]; !ok {
				t.Errorf("Expected %s, got %v", adapter.InputParameterError, response.Errors)
			}
			if len(response.Data) != 0 {
				t.Errorf("Expected no response rows, got %d", len(response.Data))
			}
		})
	}
}

func TestPresetLifecycle(t *testing.T) {
	h := newLoadedHandler(t)

	w := serve(h, "GET", "/presets", nil)
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("Expected empty list, got %s", body)
	}

	body, _ := json.Marshal(models.PresetRequest{
		Title: "ADAL drive",
		Query: "strain_type=wild-type&stim_type=delta&stim_neu_id=ADAL&nt=100&t_max=10&duration=1&extra=1",
	})
	w = serve(h, "POST", "/presets", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created presets.Preset
	json.NewDecoder(w.Body).Decode(&created)
	if strings.Contains(created.Query, "extra") || !strings.Contains(created.Query, "top_n=None") {
		t.Errorf("Expected filtered query with defaults, got %s", created.Query)
	}

	body, _ = json.Marshal(models.PresetRequest{Title: "renamed"})
	w = serve(h, "PUT", "/presets/"+created.ID, body)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = serve(h, "GET", "/presets/"+created.ID, nil)
	var got presets.Preset
	json.NewDecoder(w.Body).Decode(&got)
	if got.Title != "renamed" {
		t.Errorf("Expected renamed preset, got %+v", got)
	}

	w = serve(h, "DELETE", "/presets/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = serve(h, "DELETE", "/presets/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCreatePresetInvalid(t *testing.T) {
	h := newLoadedHandler(t)

	w := serve(h, "POST", "/presets", []byte("{"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad body, got %d", w.Code)
	}

	body, _ := json.Marshal(models.PresetRequest{Query: "stim_type=square"})
	w = serve(h, "POST", "/presets", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad stim type, got %d", w.Code)
	}

	w = serve(newTestHandler(), "POST", "/presets", body)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 without store, got %d", w.Code)
	}
}
