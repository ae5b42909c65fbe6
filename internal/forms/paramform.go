// Package forms validates the parameter form submitted from the home page.
package forms

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kartoza/funcatlas/internal/adapter"
	"github.com/kartoza/funcatlas/internal/atlas"
	"github.com/kartoza/funcatlas/internal/params"
)

// NonFieldErrors is the error key for problems spanning several fields
const NonFieldErrors = "__all__"

const (
	maxNameLength = 10
	maxRespLength = 3000
)

// Directory reports which neuron names are unknown
type Directory interface {
	Missing(ctx context.Context, names []string) ([]string, error)
}

// Field describes one form input for rendering
type Field struct {
	Name     string
	Label    string
	Help     string
	Kind     string // text, textarea, int, float or select
	Default  string
	Choices  []string
	Optional bool
	// StimType is set for stimulus keyword fields, which are only shown and
	// validated for their own stimulus type.
	StimType string
}

// Strains are the selectable strain types
func Strains() []string {
	return []string{adapter.WildType, adapter.Unc31}
}

// Fields returns the form inputs in display order: the shared fields followed
// by every stimulus keyword
func Fields() []Field {
	stimChoices := make([]string, 0, 4)
	for _, st := range atlas.StimTypes() {
		stimChoices = append(stimChoices, string(st))
	}

	fields := []Field{
		{Name: params.StrainType, Label: "Strain", Kind: "select", Default: adapter.WildType, Choices: Strains()},
		{Name: params.StimType, Label: "Stimulus type", Kind: "select", Default: string(atlas.Rectangular), Choices: stimChoices, Help: "Type of standard stimulus"},
		{Name: params.StimNeuID, Label: "Stimulated neuron", Kind: "text"},
		{Name: params.RespNeuIDs, Label: "Responding neurons", Kind: "textarea", Optional: true, Help: "Comma separated, leave empty for all"},
		{Name: params.NT, Label: "Time points", Kind: "int", Default: "1000", Help: "Number of time points"},
		{Name: params.TMax, Label: "Total duration (s)", Kind: "float", Default: "100"},
		{Name: params.TopN, Label: "Top N", Kind: "int", Optional: true, Help: "Only plot the N largest responses"},
	}

	seen := make(map[string]bool)
	for _, st := range atlas.StimTypes() {
		kwargs, _ := atlas.StandardStimKwargs(st)
		for _, kw := range kwargs {
			// rectangular and delta share duration
			if seen[kw.Name] {
				continue
			}
			seen[kw.Name] = true
			fields = append(fields, Field{
				Name:     kw.Name,
				Label:    kw.Label,
				Kind:     kw.Type,
				Default:  strconv.FormatFloat(kw.Default, 'g', -1, 64),
				StimType: string(st),
				Help:     fmt.Sprintf("Between %g and %g", kw.Min, kw.Max),
			})
		}
	}
	return fields
}

// Defaults returns the initial value of every field that has one
func Defaults() url.Values {
	out := url.Values{}
	for _, f := range Fields() {
		if f.Default != "" {
			out.Set(f.Name, f.Default)
		}
	}
	return out
}

// StimKwargFields maps each stimulus keyword to the stimulus types using it
// and its default, for toggling inputs on the page
func StimKwargFields() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, st := range atlas.StimTypes() {
		kwargs, _ := atlas.StandardStimKwargs(st)
		for _, kw := range kwargs {
			entry, ok := out[kw.Name]
			if !ok {
				entry = map[string]string{"default": strconv.FormatFloat(kw.Default, 'g', -1, 64)}
				out[kw.Name] = entry
			}
			if entry["stim_type"] == "" {
				entry["stim_type"] = string(st)
			} else {
				entry["stim_type"] += " " + string(st)
			}
		}
	}
	return out
}

// ParamForm holds submitted data and, after Validate, the errors and the
// cleaned parameter set
type ParamForm struct {
	Data    url.Values
	Errors  map[string][]string
	Cleaned url.Values
}

// New creates a form bound to a copy of data
func New(data url.Values) *ParamForm {
	return &ParamForm{Data: params.Clone(data)}
}

// Value returns the submitted value of a field, joining repeated responder ids
func (f *ParamForm) Value(name string) string {
	if name == params.RespNeuIDs {
		return strings.Join(params.SplitIDs(f.Data[name]), ",")
	}
	v := strings.TrimSpace(f.Data.Get(name))
	if v == params.None {
		return ""
	}
	return v
}

// FieldErrors returns the errors of one field, or NonFieldErrors
func (f *ParamForm) FieldErrors(name string) []string {
	return f.Errors[name]
}

// Valid reports whether the last Validate found no errors
func (f *ParamForm) Valid() bool {
	return f.Cleaned != nil && len(f.Errors) == 0
}

func (f *ParamForm) addError(name, format string, args ...interface{}) {
	f.Errors[name] = append(f.Errors[name], fmt.Sprintf(format, args...))
}

// Validate checks every field against its type and range and the neuron ids
// against dir, then the cross-field rules. Cleaned is set only when valid.
func (f *ParamForm) Validate(ctx context.Context, dir Directory) (bool, error) {
	f.Errors = make(map[string][]string)
	f.Cleaned = nil
	cleaned := url.Values{}

	strain := f.Value(params.StrainType)
	switch {
	case strain == "":
		f.addError(params.StrainType, "This field is required.")
	case !slices.Contains(Strains(), strain):
		f.addError(params.StrainType, "Select a valid choice. %s is not one of the available choices.", strain)
	default:
		cleaned.Set(params.StrainType, strain)
	}

	var stimType atlas.StimType
	if raw := f.Value(params.StimType); raw == "" {
		f.addError(params.StimType, "This field is required.")
	} else if st, err := atlas.ParseStimType(raw); err != nil {
		f.addError(params.StimType, "Select a valid choice. %s is not one of the available choices.", raw)
	} else {
		stimType = st
		cleaned.Set(params.StimType, string(st))
	}

	var ids []string
	stim := f.Value(params.StimNeuID)
	switch {
	case stim == "":
		f.addError(params.StimNeuID, "This field is required.")
	case utf8.RuneCountInString(stim) > maxNameLength:
		f.addError(params.StimNeuID, "Ensure this value has at most %d characters (it has %d).", maxNameLength, utf8.RuneCountInString(stim))
	default:
		ids = append(ids, stim)
	}

	resp := params.SplitIDs(f.Data[params.RespNeuIDs])
	if raw := f.Value(params.RespNeuIDs); utf8.RuneCountInString(raw) > maxRespLength {
		f.addError(params.RespNeuIDs, "Ensure this value has at most %d characters (it has %d).", maxRespLength, utf8.RuneCountInString(raw))
		resp = nil
	}
	ids = append(ids, resp...)

	missing, err := dir.Missing(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("failed to check neuron names: %w", err)
	}
	missingSet := make(map[string]bool, len(missing))
	for _, name := range missing {
		missingSet[name] = true
	}
	if stim != "" && missingSet[stim] {
		f.addError(params.StimNeuID, "Neuron %s is not in the neuron directory.", stim)
	} else if stim != "" && utf8.RuneCountInString(stim) <= maxNameLength {
		cleaned.Set(params.StimNeuID, stim)
	}
	var unknown []string
	for _, id := range resp {
		if missingSet[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		f.addError(params.RespNeuIDs, "Neurons not in the neuron directory: %s.", strings.Join(unknown, ", "))
	} else if f.Errors[params.RespNeuIDs] == nil {
		cleaned[params.RespNeuIDs] = append([]string{}, resp...)
	}

	if nt, ok := f.intField(params.NT, 1, adapter.MaxNT, false); ok {
		cleaned.Set(params.NT, strconv.Itoa(nt))
	}
	tMax, tMaxOK := f.floatField(params.TMax)
	if tMaxOK && tMax <= 0 {
		f.addError(params.TMax, "Ensure this value is greater than 0.")
		tMaxOK = false
	}
	if tMaxOK {
		cleaned.Set(params.TMax, formatFloat(tMax))
	}
	if f.Value(params.TopN) == "" {
		cleaned.Set(params.TopN, params.None)
	} else if topN, ok := f.intField(params.TopN, 1, adapter.MaxNT, true); ok {
		cleaned.Set(params.TopN, strconv.Itoa(topN))
	}

	duration, hasDuration := 0.0, false
	if stimType != "" {
		kwargs, _ := atlas.StandardStimKwargs(stimType)
		for _, kw := range kwargs {
			v, ok := f.floatField(kw.Name)
			if !ok {
				continue
			}
			if !kw.InRange(v) {
				f.addError(kw.Name, "Ensure this value is between %g and %g.", kw.Min, kw.Max)
				continue
			}
			cleaned.Set(kw.Name, formatFloat(v))
			if kw.Name == "duration" {
				duration, hasDuration = v, true
			}
		}
	}

	if stim != "" && slices.Contains(resp, stim) {
		f.addError(NonFieldErrors, "Stimulated neuron %s cannot also be a responding neuron.", stim)
	}
	if tMaxOK && hasDuration && tMax < duration {
		f.addError(NonFieldErrors, "Total duration t_max (%g) must not be shorter than the stimulus duration (%g).", tMax, duration)
	}

	if len(f.Errors) > 0 {
		return false, nil
	}
	f.Cleaned = cleaned
	return true, nil
}

func (f *ParamForm) intField(name string, min, max int, optional bool) (int, bool) {
	raw := f.Value(name)
	if raw == "" {
		if !optional {
			f.addError(name, "This field is required.")
		}
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		f.addError(name, "Enter a whole number.")
		return 0, false
	}
	if v < min || v > max {
		f.addError(name, "Ensure this value is between %d and %d.", min, max)
		return 0, false
	}
	return v, true
}

func (f *ParamForm) floatField(name string) (float64, bool) {
	raw := f.Value(name)
	if raw == "" {
		f.addError(name, "This field is required.")
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		f.addError(name, "Enter a number.")
		return 0, false
	}
	return v, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
