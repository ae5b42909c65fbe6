package atlas

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ResponseOptions selects and orders the responding neurons
type ResponseOptions struct {
	// RespNeuIDs restricts the responders; empty means every atlas neuron but the stimulated one.
	RespNeuIDs []string
	// Threshold drops responders whose confidence is below it.
	Threshold float64
	// TopN keeps only the N largest responses by peak amplitude; 0 keeps all.
	TopN int
	// SortByAmplitude orders rows by rank instead of request order.
	SortByAmplitude bool
}

// Label names one response row and its amplitude rank (0 is the largest)
type Label struct {
	NeuronID string `json:"neuron_id"`
	Rank     int    `json:"rank"`
}

func (l Label) String() string {
	return fmt.Sprintf("%s (%d)", l.NeuronID, l.Rank)
}

// Response is the predicted activity of the responding neurons.
// Data has one row per label and one column per time point; it is nil when empty.
type Response struct {
	Data        *mat.Dense
	Labels      []Label
	Confidences []float64
	Message     string
}

// Dims returns rows and columns of the response data
func (r *Response) Dims() (int, int) {
	if r == nil || r.Data == nil {
		return 0, 0
	}
	return r.Data.Dims()
}

// Empty reports whether there is nothing to plot
func (r *Response) Empty() bool {
	rows, _ := r.Dims()
	return rows == 0
}

type responseRow struct {
	id         string
	values     []float64
	confidence float64
	amplitude  float64
	rank       int
}

// Responses predicts how the responders react when stimNeuID is driven by stim
func (a *Atlas) Responses(stim []float64, dt float64, stimNeuID string, opts ResponseOptions) (*Response, error) {
	if len(stim) == 0 {
		return nil, errors.New("stimulus is empty")
	}
	if dt <= 0 {
		return nil, fmt.Errorf("time step must be positive, got %v", dt)
	}
	if !a.Has(stimNeuID) {
		return nil, fmt.Errorf("%w: stimulated neuron %s", ErrNeuronNotFound, stimNeuID)
	}

	ids := opts.RespNeuIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(a.ids))
		for _, id := range a.ids {
			if id != stimNeuID {
				ids = append(ids, id)
			}
		}
	}

	var notes []string
	rows := make([]*responseRow, 0, len(ids))
	for _, id := range ids {
		row := &responseRow{id: id, values: make([]float64, len(stim))}
		switch k, ok := a.Kernel(id, stimNeuID); {
		case !a.Has(id):
			notes = append(notes, fmt.Sprintf("%s is not in the %s atlas.", id, a.strain))
		case !ok:
			notes = append(notes, fmt.Sprintf("No measured response of %s to %s.", id, stimNeuID))
		default:
			if k.Confidence < opts.Threshold {
				notes = append(notes, fmt.Sprintf("%s dropped: confidence %.2f below threshold %.2f.", id, k.Confidence, opts.Threshold))
				continue
			}
			convolve(row.values, stim, k, dt)
			row.confidence = k.Confidence
		}
		row.amplitude = floats.Norm(row.values, math.Inf(1))
		rows = append(rows, row)
	}

	ranked := make([]*responseRow, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].amplitude > ranked[j].amplitude
	})
	for i, row := range ranked {
		row.rank = i
	}

	if opts.SortByAmplitude {
		rows = ranked
	}
	if opts.TopN > 0 && opts.TopN < len(rows) {
		kept := rows[:0]
		for _, row := range rows {
			if row.rank < opts.TopN {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	resp := &Response{Message: strings.Join(notes, "\n")}
	if len(rows) == 0 {
		return resp, nil
	}
	resp.Data = mat.NewDense(len(rows), len(stim), nil)
	for i, row := range rows {
		resp.Data.SetRow(i, row.values)
		resp.Labels = append(resp.Labels, Label{NeuronID: row.id, Rank: row.rank})
		resp.Confidences = append(resp.Confidences, row.confidence)
	}
	return resp, nil
}

// convolve writes dt * (stim * k) into out
func convolve(out, stim []float64, k Kernel, dt float64) {
	n := len(stim)
	span := int(math.Ceil(k.span()/dt)) + 1
	if span > n {
		span = n
	}
	kv := make([]float64, span)
	for m := range kv {
		kv[m] = k.At(float64(m) * dt)
	}
	for j, s := range stim {
		if s == 0 {
			continue
		}
		end := j + span
		if end > n {
			end = n
		}
		for i := j; i < end; i++ {
			out[i] += s * kv[i-j] * dt
		}
	}
}
