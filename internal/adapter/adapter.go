// Package adapter translates request parameter sets into atlas calls and
// packages the results for the page. Every operation returns its result
// together with an ErrorMap instead of failing outright, so that a partially
// failed request can still render the form, the notes and the diagnostics.
package adapter

import (
	"errors"
	"fmt"
	"html/template"
	"log"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/kartoza/funcatlas/internal/atlas"
	"github.com/kartoza/funcatlas/internal/chart"
	"github.com/kartoza/funcatlas/internal/params"
)

// Threshold is the confidence cutoff used for every response request
const Threshold = 0.0

// MaxNT is the largest number of time points a request may ask for
const MaxNT = 100000

const (
	WildType = "wild-type"
	Unc31    = "unc-31"
)

// Adapter resolves atlas snapshots from a media folder
type Adapter struct {
	mu       sync.RWMutex
	atlasDir string
}

// New creates an adapter reading snapshots from atlasDir
func New(atlasDir string) *Adapter {
	return &Adapter{atlasDir: atlasDir}
}

// AtlasDir returns the folder snapshots are loaded from
func (a *Adapter) AtlasDir() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.atlasDir
}

// SetAtlasDir switches to another snapshot folder, e.g. after an atlas pack install
func (a *Adapter) SetAtlasDir(dir string) {
	a.mu.Lock()
	a.atlasDir = dir
	a.mu.Unlock()
}

// Output bundles everything the page shows for one plot request
type Output struct {
	PlotHTML    template.HTML
	RespMsg     string
	QueryString string
	CodeSnippet string
	Errors      ErrorMap
}

// RequiredKeysFor returns the parameter keys a stimulus type needs: the shared
// keys followed by the stimulus-specific ones
func RequiredKeysFor(stimType string) ([]string, error) {
	st, err := atlas.ParseStimType(stimType)
	if err != nil {
		return nil, err
	}
	kwargs, err := atlas.StandardStimKwargs(st)
	if err != nil {
		return nil, err
	}
	keys := params.SharedKeys()
	for _, kw := range kwargs {
		keys = append(keys, kw.Name)
	}
	return keys, nil
}

// FilterToRequired restricts p to the keys its stimulus type needs. Optional
// keys that are absent get their defaults so the result always carries the full
// key set; any other missing key is an input error.
func FilterToRequired(p url.Values) (url.Values, ErrorMap) {
	if p == nil {
		return nil, single(InputParameterError, errors.New("input is not a parameter set"))
	}
	stimType := p.Get(params.StimType)
	if stimType == "" {
		return nil, single(InputParameterError, errors.New("stim_type is missing"))
	}
	keys, err := RequiredKeysFor(stimType)
	if err != nil {
		return nil, single(InputParameterError, fmt.Errorf("undefined stim_type:%s. %w", stimType, err))
	}

	out := make(url.Values, len(keys))
	var missing []string
	for _, k := range keys {
		v, ok := p[k]
		switch {
		case ok:
			out[k] = append([]string{}, v...)
		case k == params.RespNeuIDs:
			out[k] = []string{}
		case k == params.TopN:
			out[k] = []string{params.None}
		default:
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, single(InputParameterError, fmt.Errorf("missing parameters: %v", missing))
	}

	st, _ := atlas.ParseStimType(stimType)
	out.Set(params.StimType, string(st))
	return out, nil
}

// StepSize converts a total duration into a time step. nt must not be zero.
func StepSize(tMax float64, nt int) float64 {
	return tMax / float64(nt)
}

// TotalDuration converts a time step into a total duration
func TotalDuration(dt float64, nt int) float64 {
	return dt * float64(nt)
}

// AtlasFile maps a strain to its snapshot file. Unknown strains use the
// wild-type snapshot.
func AtlasFile(strain string) string {
	switch strain {
	case WildType:
		return "wild-type.pickle"
	case Unc31:
		return "unc-31.pickle"
	default:
		// TODO: report unknown strains under input_parameter_error so /api/responses can 400 them
		return "wild-type.pickle"
	}
}

// Snapshots lists the snapshot files present in the atlas folder
func (a *Adapter) Snapshots() []string {
	matches, err := filepath.Glob(filepath.Join(a.AtlasDir(), "*.pickle"))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	return names
}

// LoadAtlas reads the snapshot for a strain
func (a *Adapter) LoadAtlas(strain string) (*atlas.Atlas, ErrorMap) {
	name := AtlasFile(strain)
	dir := a.AtlasDir()
	path := filepath.Join(dir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil, single(AtlasFileError, fmt.Errorf("%w: %s", ErrAtlasNotFound, name))
	}

	fa, err := atlas.FromFile(dir, name)
	if err != nil {
		return nil, single(AtlasFileError, err)
	}
	return fa, nil
}

// NeuronIDs lists the stimulable neurons of a strain's atlas. Failures give an
// empty list.
func (a *Adapter) NeuronIDs(strain string) ([]string, ErrorMap) {
	fa, errs := a.LoadAtlas(strain)
	if fa == nil {
		return []string{}, errs
	}
	ids := fa.NeuronIDs(true)
	if len(ids) == 0 {
		return ids, single(NeuronIDsError, fmt.Errorf("atlas %s lists no stimulable neurons", AtlasFile(strain)))
	}
	return ids, nil
}

// request is a parsed, filtered parameter set
type request struct {
	strain     string
	stimType   atlas.StimType
	stimNeuID  string
	respNeuIDs []string
	nt         int
	tMax       float64
	topN       int
	kwargs     map[string]float64
}

func (r request) dt() float64 {
	return StepSize(r.tMax, r.nt)
}

// parseRequest decodes a filtered parameter set and checks the invariants a
// response request must hold: finite values within their ranges, the
// stimulated neuron outside the responders and t_max covering the stimulus.
func parseRequest(p url.Values) (request, error) {
	r := request{
		strain:     p.Get(params.StrainType),
		stimNeuID:  strings.TrimSpace(p.Get(params.StimNeuID)),
		respNeuIDs: params.SplitIDs(p[params.RespNeuIDs]),
		kwargs:     make(map[string]float64),
	}

	st, err := atlas.ParseStimType(p.Get(params.StimType))
	if err != nil {
		return r, err
	}
	r.stimType = st

	if r.nt, err = strconv.Atoi(strings.TrimSpace(p.Get(params.NT))); err != nil {
		return r, fmt.Errorf("nt: %w", err)
	}
	if r.nt < 1 || r.nt > MaxNT {
		return r, fmt.Errorf("nt must be between 1 and %d, got %d", MaxNT, r.nt)
	}
	if r.tMax, err = parseFinite(params.TMax, p.Get(params.TMax)); err != nil {
		return r, err
	}
	if r.tMax <= 0 {
		return r, fmt.Errorf("t_max must be greater than 0, got %g", r.tMax)
	}
	if top := p.Get(params.TopN); !params.IsUnset(top) {
		if r.topN, err = strconv.Atoi(strings.TrimSpace(top)); err != nil {
			return r, fmt.Errorf("top_n: %w", err)
		}
		if r.topN < 1 {
			return r, fmt.Errorf("top_n must be at least 1, got %d", r.topN)
		}
	}

	kwargs, _ := atlas.StandardStimKwargs(st)
	for _, kw := range kwargs {
		v, err := parseFinite(kw.Name, p.Get(kw.Name))
		if err != nil {
			return r, err
		}
		if !kw.InRange(v) {
			return r, fmt.Errorf("%s must be between %g and %g, got %g", kw.Name, kw.Min, kw.Max, v)
		}
		r.kwargs[kw.Name] = v
	}

	if r.stimNeuID != "" && slices.Contains(r.respNeuIDs, r.stimNeuID) {
		return r, fmt.Errorf("%w: %s", ErrStimInResponders, r.stimNeuID)
	}
	if duration, ok := r.kwargs["duration"]; ok && r.tMax < duration {
		return r, fmt.Errorf("t_max (%g) must not be shorter than the stimulus duration (%g)", r.tMax, duration)
	}
	return r, nil
}

func parseFinite(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a finite number, got %s", name, raw)
	}
	return v, nil
}

// ComputeResponses synthesizes the requested stimulus and infers the responses.
// The result is never nil; on failure it is empty and the ErrorMap says why.
func (a *Adapter) ComputeResponses(p url.Values) (*atlas.Response, ErrorMap) {
	empty := &atlas.Response{}

	filtered, errs := FilterToRequired(p)
	if len(errs) > 0 {
		return empty, errs
	}
	req, err := parseRequest(filtered)
	if err != nil {
		return empty, single(InputParameterError, err)
	}

	fa, errs := a.LoadAtlas(req.strain)
	if fa == nil {
		return empty, errs
	}

	dt := req.dt()
	kwargs := req.kwargs
	if req.stimType == atlas.Delta {
		kwargs = map[string]float64{"duration": dt}
	}
	stim, err := atlas.StandardStimulus(req.nt, dt, req.stimType, kwargs)
	if err != nil {
		return empty, single(StandardStimulusError, err)
	}

	if req.stimNeuID == "" {
		return empty, nil
	}
	resp, err := fa.Responses(stim, dt, req.stimNeuID, atlas.ResponseOptions{
		RespNeuIDs:      req.respNeuIDs,
		Threshold:       Threshold,
		TopN:            req.topN,
		SortByAmplitude: true,
	})
	if err != nil {
		return empty, single(ResponsesError, err)
	}
	return resp, nil
}

// ShareableQuery encodes the required parameters for deep links
func ShareableQuery(p url.Values) (string, ErrorMap) {
	filtered, errs := FilterToRequired(p)
	if len(errs) > 0 {
		return "", single(PlotURLError, fmt.Errorf("failed to build query: %w", errs[InputParameterError]))
	}
	return filtered.Encode(), nil
}

// CodeSnippet renders Go code reproducing the request
func (a *Adapter) CodeSnippet(p url.Values) (string, ErrorMap) {
	filtered, errs := FilterToRequired(p)
	if len(errs) > 0 {
		return "", errs
	}
	req, err := parseRequest(filtered)
	if err != nil {
		return "", single(InputParameterError, err)
	}

	snippet, err := atlas.CodeSnippet(atlas.SnippetParams{
		Folder:          a.AtlasDir(),
		File:            AtlasFile(req.strain),
		NT:              req.nt,
		DT:              req.dt(),
		StimType:        req.stimType,
		StimKwargs:      req.kwargs,
		StimNeuID:       req.stimNeuID,
		RespNeuIDs:      req.respNeuIDs,
		Threshold:       Threshold,
		TopN:            req.topN,
		SortByAmplitude: true,
	})
	if err != nil {
		return "", single(PlotCodeSnippetError, err)
	}
	return snippet, nil
}

// PlotOutput runs every step for a plot request and merges their errors
func (a *Adapter) PlotOutput(p url.Values) Output {
	filtered, errs := FilterToRequired(p)
	if len(errs) > 0 {
		return Output{Errors: errs}
	}
	out := Output{Errors: ErrorMap{}}

	resp, respErrs := a.ComputeResponses(filtered)
	if resp.Message != "" {
		out.RespMsg = "Notes:\n" + resp.Message
	}
	var plotErrs ErrorMap
	if !resp.Empty() {
		req, _ := parseRequest(filtered)
		svg, err := chart.Render(chart.Plot{
			Response:  resp,
			DT:        req.dt(),
			StimNeuID: req.stimNeuID,
		})
		if err != nil {
			plotErrs = single(PlotHTMLError, err)
		} else {
			out.PlotHTML = template.HTML(svg)
		}
	}

	query, queryErrs := ShareableQuery(filtered)
	out.QueryString = query
	snippet, snippetErrs := a.CodeSnippet(filtered)
	out.CodeSnippet = snippet

	out.Errors = out.Errors.Merge(respErrs, plotErrs, queryErrs, snippetErrs)
	for _, stage := range out.Errors.Keys() {
		log.Printf("Warning: %s: %v", stage, out.Errors[stage])
	}
	return out
}
