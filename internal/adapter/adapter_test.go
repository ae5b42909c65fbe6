package adapter

import (
	"bufio"
	"errors"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kartoza/funcatlas/internal/atlas"
	"github.com/kartoza/funcatlas/internal/params"
)

const neuronListPath = "../../testdata/worm_neuron_list.tsv"

// readNeuronNames reads the NAME column of the shared fixture
func readNeuronNames(t *testing.T) []string {
	t.Helper()
	f, err := os.Open(neuronListPath)
	if err != nil {
		t.Fatalf("Failed to open neuron list: %v", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		names = append(names, strings.Split(scanner.Text(), "\t")[0])
	}
	return names
}

// newTestAdapter writes a synthetic wild-type atlas over the 300 fixture neurons
// with measured kernels from ADAL to the neurons used below
func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	dir := t.TempDir()

	fa := atlas.Synthesize(WildType, readNeuronNames(t), 1, 0.05)
	for i, resp := range []string{"AVAR", "ASEL", "AWAL"} {
		k := atlas.Kernel{Gain: float64(i + 1), TauRise: 0.5, TauDecay: 2, Confidence: 0.8}
		if err := fa.SetKernel(resp, "ADAL", k); err != nil {
			t.Fatalf("SetKernel failed: %v", err)
		}
	}
	if err := fa.Save(filepath.Join(dir, "wild-type.pickle")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return New(dir)
}

func validParams() url.Values {
	return url.Values{
		params.StrainType: {WildType},
		params.StimType:   {"rectangular"},
		params.StimNeuID:  {"ADAL"},
		params.RespNeuIDs: {"AVAR", "ASEL", "AWAL"},
		params.NT:         {"1000"},
		params.TMax:       {"100"},
		params.TopN:       {params.None},
		"duration":        {"2"},
		"frequency":       {"0.25"},
		"phi0":            {"0"},
		"tau1":            {"1"},
		"tau2":            {"0.8"},
	}
}

func TestRequiredKeysFor(t *testing.T) {
	shared := params.SharedKeys()
	tests := map[string][]string{
		"rectangular": append(append([]string{}, shared...), "duration"),
		"delta":       append(append([]string{}, shared...), "duration"),
		"sinusoidal":  append(append([]string{}, shared...), "frequency", "phi0"),
		"sine":        append(append([]string{}, shared...), "frequency", "phi0"),
		"realistic":   append(append([]string{}, shared...), "tau1", "tau2"),
	}
	for stimType, want := range tests {
		got, err := RequiredKeysFor(stimType)
		if err != nil {
			t.Fatalf("%s: RequiredKeysFor failed: %v", stimType, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: expected %v, got %v", stimType, want, got)
		}
	}

	if _, err := RequiredKeysFor("square"); !errors.Is(err, ErrUnknownStimulusType) {
		t.Errorf("Expected ErrUnknownStimulusType, got %v", err)
	}
}

func TestFilterToRequiredKeySet(t *testing.T) {
	for _, st := range atlas.StimTypes() {
		p := validParams()
		p.Set(params.StimType, string(st))

		filtered, errs := FilterToRequired(p)
		if len(errs) > 0 {
			t.Fatalf("%s: unexpected errors %v", st, errs.Messages())
		}
		want, _ := RequiredKeysFor(string(st))
		if len(filtered) != len(want) {
			t.Errorf("%s: expected %d keys, got %v", st, len(want), filtered)
		}
		for _, k := range want {
			if _, ok := filtered[k]; !ok {
				t.Errorf("%s: missing key %s", st, k)
			}
		}
	}
}

func TestFilterToRequiredDoesNotModifyInput(t *testing.T) {
	p := validParams()
	p.Set(params.StimType, "sine")
	filtered, _ := FilterToRequired(p)

	if filtered.Get(params.StimType) != "sinusoidal" {
		t.Errorf("Expected canonical stim type, got %s", filtered.Get(params.StimType))
	}
	if p.Get(params.StimType) != "sine" {
		t.Error("FilterToRequired modified its input")
	}
	filtered[params.RespNeuIDs][0] = "changed"
	if p[params.RespNeuIDs][0] != "AVAR" {
		t.Error("FilterToRequired shares slices with its input")
	}
}

func TestFilterToRequiredDefaultsOptionalKeys(t *testing.T) {
	p := validParams()
	delete(p, params.RespNeuIDs)
	delete(p, params.TopN)

	filtered, errs := FilterToRequired(p)
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}
	if v, ok := filtered[params.RespNeuIDs]; !ok || len(v) != 0 {
		t.Errorf("Expected empty resp_neu_ids, got %v", v)
	}
	if filtered.Get(params.TopN) != params.None {
		t.Errorf("Expected top_n None, got %s", filtered.Get(params.TopN))
	}
}

func TestFilterToRequiredErrors(t *testing.T) {
	unknown := validParams()
	unknown.Set(params.StimType, "square")
	absent := validParams()
	delete(absent, params.StimType)
	missingNT := validParams()
	delete(missingNT, params.NT)

	for name, p := range map[string]url.Values{"unknown": unknown, "absent": absent, "missing nt": missingNT, "nil": nil} {
		t.Run(name, func(t *testing.T) {
			filtered, errs := FilterToRequired(p)
			if filtered != nil {
				t.Errorf("Expected no result, got %v", filtered)
			}
			if !errs.Has(InputParameterError) {
				t.Errorf("Expected %s, got %v", InputParameterError, errs.Keys())
			}
		})
	}
}

func TestStepSizeAndTotalDurationAreInverse(t *testing.T) {
	for _, tc := range []struct {
		tMax float64
		nt   int
	}{{100, 1000}, {1, 1}, {37.5, 7}, {0.3, 3}} {
		got := TotalDuration(StepSize(tc.tMax, tc.nt), tc.nt)
		if math.Abs(got-tc.tMax) > 1e-9*tc.tMax {
			t.Errorf("TotalDuration(StepSize(%v, %d)) = %v", tc.tMax, tc.nt, got)
		}
	}
	if StepSize(100, 1000) != 0.1 {
		t.Errorf("Expected dt 0.1, got %v", StepSize(100, 1000))
	}
}

func TestAtlasFileFallback(t *testing.T) {
	tests := map[string]string{
		WildType: "wild-type.pickle",
		Unc31:    "unc-31.pickle",
		"daf-2":  "wild-type.pickle",
		"":       "wild-type.pickle",
	}
	for strain, want := range tests {
		if got := AtlasFile(strain); got != want {
			t.Errorf("AtlasFile(%q) = %s, expected %s", strain, got, want)
		}
	}
}

func TestLoadAtlasUnknownStrainFallsBack(t *testing.T) {
	a := newTestAdapter(t)
	fa, errs := a.LoadAtlas("daf-2")
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}
	if fa.Strain() != WildType {
		t.Errorf("Expected wild-type atlas, got %s", fa.Strain())
	}
}

func TestSnapshots(t *testing.T) {
	a := newTestAdapter(t)
	if got := a.Snapshots(); !reflect.DeepEqual(got, []string{"wild-type.pickle"}) {
		t.Errorf("Expected wild-type snapshot only, got %v", got)
	}
	if got := New(t.TempDir()).Snapshots(); len(got) != 0 {
		t.Errorf("Expected no snapshots, got %v", got)
	}
}

func TestLoadAtlasMissingFile(t *testing.T) {
	a := newTestAdapter(t)
	fa, errs := a.LoadAtlas(Unc31)
	if fa != nil {
		t.Error("Expected no atlas for missing snapshot")
	}
	if !errors.Is(errs[AtlasFileError], ErrAtlasNotFound) {
		t.Errorf("Expected ErrAtlasNotFound, got %v", errs)
	}
}

func TestNeuronIDs(t *testing.T) {
	a := newTestAdapter(t)
	ids, errs := a.NeuronIDs(WildType)
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}
	if len(ids) == 0 {
		t.Error("Expected stimulable neurons")
	}

	ids, errs = New(t.TempDir()).NeuronIDs(WildType)
	if ids == nil || len(ids) != 0 {
		t.Errorf("Expected empty non-nil list, got %v", ids)
	}
	if !errs.Has(AtlasFileError) {
		t.Errorf("Expected atlas error, got %v", errs.Keys())
	}
}

func TestComputeResponsesShape(t *testing.T) {
	a := newTestAdapter(t)
	resp, errs := a.ComputeResponses(validParams())
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}

	rows, cols := resp.Dims()
	if rows != 3 || cols != 1000 {
		t.Errorf("Expected 3x1000, got %dx%d", rows, cols)
	}
	if len(resp.Labels) != 3 || len(resp.Confidences) != 3 {
		t.Errorf("Expected 3 labels and confidences, got %v %v", resp.Labels, resp.Confidences)
	}
	// sorted by amplitude: AWAL has the largest gain
	if resp.Labels[0].NeuronID != "AWAL" || resp.Labels[0].Rank != 0 {
		t.Errorf("Expected AWAL first, got %v", resp.Labels)
	}
}

func TestComputeResponsesEveryStimType(t *testing.T) {
	a := newTestAdapter(t)
	for _, st := range atlas.StimTypes() {
		p := validParams()
		p.Set(params.StimType, string(st))
		resp, errs := a.ComputeResponses(p)
		if len(errs) > 0 {
			t.Errorf("%s: unexpected errors %v", st, errs.Messages())
			continue
		}
		if rows, cols := resp.Dims(); rows != 3 || cols != 1000 {
			t.Errorf("%s: expected 3x1000, got %dx%d", st, rows, cols)
		}
	}
}

func TestComputeResponsesTopN(t *testing.T) {
	a := newTestAdapter(t)
	p := validParams()
	p.Set(params.TopN, "2")

	resp, errs := a.ComputeResponses(p)
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}
	if rows, _ := resp.Dims(); rows != 2 {
		t.Errorf("Expected 2 rows, got %d", rows)
	}
}

func TestComputeResponsesAllNeurons(t *testing.T) {
	a := newTestAdapter(t)
	p := validParams()
	p.Set(params.NT, "100")
	p[params.RespNeuIDs] = []string{}

	resp, errs := a.ComputeResponses(p)
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}
	if rows, cols := resp.Dims(); rows != 299 || cols != 100 {
		t.Errorf("Expected 299x100, got %dx%d", rows, cols)
	}
}

func TestComputeResponsesUnknownStimTypeNeverSynthesizes(t *testing.T) {
	a := New(t.TempDir()) // no atlas: reaching the load step would add atlas_file_error
	p := validParams()
	p.Set(params.StimType, "square")

	resp, errs := a.ComputeResponses(p)
	if !resp.Empty() {
		t.Error("Expected empty result")
	}
	if !errs.Has(InputParameterError) {
		t.Errorf("Expected %s, got %v", InputParameterError, errs.Keys())
	}
	if errs.Has(AtlasFileError) || errs.Has(StandardStimulusError) {
		t.Errorf("Unknown stim type reached later stages: %v", errs.Keys())
	}
}

func TestComputeResponsesStageErrors(t *testing.T) {
	a := newTestAdapter(t)

	badStim := validParams()
	badStim.Set(params.StimType, "realistic")
	badStim.Set("tau1", "0")
	_, errs := a.ComputeResponses(badStim)
	if !errs.Has(InputParameterError) || errs.Has(StandardStimulusError) {
		t.Errorf("Expected %s before synthesis, got %v", InputParameterError, errs.Keys())
	}

	badNeuron := validParams()
	badNeuron.Set(params.StimNeuID, "NOPE")
	resp, errs := a.ComputeResponses(badNeuron)
	if !errs.Has(ResponsesError) || !resp.Empty() {
		t.Errorf("Expected %s with empty result, got %v", ResponsesError, errs.Keys())
	}

	badNT := validParams()
	badNT.Set(params.NT, "zero")
	_, errs = a.ComputeResponses(badNT)
	if !errs.Has(InputParameterError) {
		t.Errorf("Expected %s, got %v", InputParameterError, errs.Keys())
	}
}

func TestComputeResponsesRejectsInvalidParameters(t *testing.T) {
	a := newTestAdapter(t)

	tests := []struct {
		name   string
		values map[string]string
	}{
		{"frequency above range", map[string]string{params.StimType: "sinusoidal", "frequency": "5"}},
		{"frequency not a number", map[string]string{params.StimType: "sinusoidal", "frequency": "NaN"}},
		{"phi0 infinite", map[string]string{params.StimType: "sinusoidal", "phi0": "+Inf"}},
		{"tau2 above range", map[string]string{params.StimType: "realistic", "tau2": "500"}},
		{"t_max shorter than duration", map[string]string{params.TMax: "1", "duration": "50"}},
		{"t_max negative", map[string]string{params.TMax: "-20"}},
		{"t_max infinite", map[string]string{params.TMax: "Inf"}},
		{"nt above limit", map[string]string{params.NT: "500000"}},
		{"nt zero", map[string]string{params.NT: "0"}},
		{"top_n zero", map[string]string{params.TopN: "0"}},
		{"stimulated neuron among responders", map[string]string{params.RespNeuIDs: "ADAL,AVAR"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			for k, v := range tc.values {
				p.Set(k, v)
			}
			resp, errs := a.ComputeResponses(p)
			if !errs.Has(InputParameterError) {
				t.Errorf("Expected %s, got %v", InputParameterError, errs.Keys())
			}
			if !resp.Empty() {
				t.Error("Expected empty result")
			}
			if _, errs := a.CodeSnippet(p); !errs.Has(InputParameterError) {
				t.Errorf("Expected snippet %s, got %v", InputParameterError, errs.Keys())
			}
		})
	}

	p := validParams()
	p.Set(params.RespNeuIDs, "ADAL")
	if _, errs := a.ComputeResponses(p); !errors.Is(errs[InputParameterError], ErrStimInResponders) {
		t.Errorf("Expected ErrStimInResponders, got %v", errs[InputParameterError])
	}
}

func TestComputeResponsesTMaxEqualToDuration(t *testing.T) {
	a := newTestAdapter(t)
	p := validParams()
	p.Set(params.TMax, "2")
	p.Set(params.NT, "20")
	if _, errs := a.ComputeResponses(p); len(errs) > 0 {
		t.Errorf("Expected t_max == duration to be accepted, got %v", errs.Messages())
	}
}

func TestShareableQuery(t *testing.T) {
	query, errs := ShareableQuery(validParams())
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}
	parsed, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("query does not parse: %v", err)
	}
	if got := parsed[params.RespNeuIDs]; !reflect.DeepEqual(got, []string{"AVAR", "ASEL", "AWAL"}) {
		t.Errorf("Expected repeated resp_neu_ids, got %v", got)
	}
	if parsed.Has("frequency") || parsed.Has("tau1") {
		t.Errorf("Query carries keys of other stimulus types: %s", query)
	}
	if !strings.Contains(query, "resp_neu_ids=AVAR&resp_neu_ids=ASEL") {
		t.Errorf("Unexpected encoding %s", query)
	}
}

func TestShareableQueryError(t *testing.T) {
	p := validParams()
	p.Set(params.StimType, "square")
	query, errs := ShareableQuery(p)
	if query != "" || !errors.Is(errs[PlotURLError], ErrUnknownStimulusType) {
		t.Errorf("Expected %s wrapping ErrUnknownStimulusType, got %q %v", PlotURLError, query, errs)
	}
}

func TestCodeSnippet(t *testing.T) {
	a := newTestAdapter(t)
	snippet, errs := a.CodeSnippet(validParams())
	if len(errs) > 0 {
		t.Fatalf("Unexpected errors %v", errs.Messages())
	}
	if !strings.Contains(snippet, `"wild-type.pickle"`) || !strings.Contains(snippet, `"duration": 2,`) {
		t.Errorf("Unexpected snippet:\n%s", snippet)
	}
}

func TestPlotOutput(t *testing.T) {
	a := newTestAdapter(t)
	out := a.PlotOutput(validParams())

	if len(out.Errors) > 0 {
		t.Fatalf("Unexpected errors %v", out.Errors.Messages())
	}
	if !strings.HasPrefix(string(out.PlotHTML), "<svg") {
		t.Error("Expected SVG plot")
	}
	if out.QueryString == "" || out.CodeSnippet == "" {
		t.Error("Expected query string and code snippet")
	}
}

func TestPlotOutputDegradesGracefully(t *testing.T) {
	out := New(t.TempDir()).PlotOutput(validParams())
	if out.PlotHTML != "" {
		t.Error("Expected no plot without an atlas")
	}
	if !out.Errors.Has(AtlasFileError) {
		t.Errorf("Expected %s, got %v", AtlasFileError, out.Errors.Keys())
	}
	// the rest still renders
	if out.QueryString == "" || out.CodeSnippet == "" {
		t.Error("Expected query string and code snippet despite atlas failure")
	}
}

func TestErrorMapMerge(t *testing.T) {
	a := ErrorMap{"x": errors.New("one")}
	b := ErrorMap{"x": errors.New("two"), "y": errors.New("three")}
	merged := a.Merge(b, nil)

	if merged["x"].Error() != "two" || !merged.Has("y") {
		t.Errorf("Unexpected merge result %v", merged.Messages())
	}
	if a["x"].Error() != "one" {
		t.Error("Merge modified its receiver")
	}
	if !reflect.DeepEqual(merged.Keys(), []string{"x", "y"}) {
		t.Errorf("Unexpected keys %v", merged.Keys())
	}
}
