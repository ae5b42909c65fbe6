package atlas

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// StimType is the waveform shape used to drive the stimulated neuron
type StimType string

const (
	Rectangular StimType = "rectangular"
	Delta       StimType = "delta"
	Sinusoidal  StimType = "sinusoidal"
	Realistic   StimType = "realistic"
)

// ErrUnknownStimType is returned for stimulus types outside the closed set
var ErrUnknownStimType = errors.New("unknown stimulus type")

// StimTypes returns the recognized stimulus types in display order
func StimTypes() []StimType {
	return []StimType{Realistic, Rectangular, Delta, Sinusoidal}
}

// ParseStimType resolves a user supplied name. "sine" is accepted for sinusoidal.
func ParseStimType(s string) (StimType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rectangular":
		return Rectangular, nil
	case "delta":
		return Delta, nil
	case "sinusoidal", "sine":
		return Sinusoidal, nil
	case "realistic":
		return Realistic, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStimType, s)
}

// StimKwarg describes one stimulus-specific parameter
type StimKwarg struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Default float64 `json:"default"`
	Label   string  `json:"label"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// InRange reports whether v lies within the descriptor's closed range
func (k StimKwarg) InRange(v float64) bool {
	return v >= k.Min && v <= k.Max
}

var stimKwargs = map[StimType][]StimKwarg{
	Rectangular: {
		{Name: "duration", Type: "float", Default: 1.0, Label: "Duration (s)", Min: 0, Max: 1000},
	},
	Delta: {
		{Name: "duration", Type: "float", Default: 1.0, Label: "Duration (s)", Min: 0, Max: 1000},
	},
	Sinusoidal: {
		{Name: "frequency", Type: "float", Default: 0.25, Label: "Frequency (Hz)", Min: 0, Max: 0.25},
		{Name: "phi0", Type: "float", Default: 0.0, Label: "Phase", Min: 0, Max: 6.28},
	},
	Realistic: {
		{Name: "tau1", Type: "float", Default: 1.0, Label: "Decay time constant (s)", Min: 0.01, Max: 100},
		{Name: "tau2", Type: "float", Default: 0.8, Label: "Rise time constant (s)", Min: 0.01, Max: 100},
	},
}

// StandardStimKwargs returns the parameters a stimulus type takes, in order
func StandardStimKwargs(t StimType) ([]StimKwarg, error) {
	kw, ok := stimKwargs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStimType, t)
	}
	out := make([]StimKwarg, len(kw))
	copy(out, kw)
	return out, nil
}

// StandardStimulus synthesizes nt samples spaced dt apart.
// A delta stimulus is a single sample of width dt at t=0 regardless of its duration kwarg.
func StandardStimulus(nt int, dt float64, t StimType, kwargs map[string]float64) ([]float64, error) {
	if nt < 1 {
		return nil, fmt.Errorf("number of time points must be at least 1, got %d", nt)
	}
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("time step must be positive, got %v", dt)
	}

	get := func(name string) (float64, error) {
		v, ok := kwargs[name]
		if !ok {
			return 0, fmt.Errorf("%s stimulus requires %q", t, name)
		}
		return v, nil
	}

	stim := make([]float64, nt)
	switch t {
	case Rectangular:
		duration, err := get("duration")
		if err != nil {
			return nil, err
		}
		for i := range stim {
			if float64(i)*dt < duration {
				stim[i] = 1
			}
		}
	case Delta:
		stim[0] = 1
	case Sinusoidal:
		frequency, err := get("frequency")
		if err != nil {
			return nil, err
		}
		phi0, err := get("phi0")
		if err != nil {
			return nil, err
		}
		for i := range stim {
			stim[i] = math.Sin(2*math.Pi*frequency*float64(i)*dt + phi0)
		}
	case Realistic:
		tau1, err := get("tau1")
		if err != nil {
			return nil, err
		}
		tau2, err := get("tau2")
		if err != nil {
			return nil, err
		}
		if tau1 <= 0 || tau2 <= 0 {
			return nil, fmt.Errorf("time constants must be positive, got tau1=%v tau2=%v", tau1, tau2)
		}
		for i := range stim {
			stim[i] = doubleExp(float64(i)*dt, tau1, tau2)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStimType, t)
	}
	return stim, nil
}

// doubleExp is exp(-t/tauA) - exp(-t/tauB) scaled to a peak of 1,
// or the alpha function when both constants are equal.
func doubleExp(t, tauA, tauB float64) float64 {
	if t < 0 {
		return 0
	}
	if tauA == tauB {
		return t / tauA * math.Exp(1-t/tauA)
	}
	tPeak := math.Log(tauA/tauB) * tauA * tauB / (tauA - tauB)
	peak := math.Exp(-tPeak/tauA) - math.Exp(-tPeak/tauB)
	return (math.Exp(-t/tauA) - math.Exp(-t/tauB)) / peak
}
