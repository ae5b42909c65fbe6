// Package atlas holds the functional atlas: per-strain snapshots of the
// stimulus-to-response kernels between neuron pairs, standard stimulus
// synthesis and response inference.
package atlas

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// ErrNeuronNotFound is returned when a neuron id is not part of the atlas
var ErrNeuronNotFound = errors.New("neuron not found in atlas")

// Kernel is the response of one neuron to a unit impulse in another
type Kernel struct {
	Gain       float64
	TauRise    float64
	TauDecay   float64
	Confidence float64
}

// At evaluates the kernel t seconds after the impulse
func (k Kernel) At(t float64) float64 {
	return k.Gain * doubleExp(t, k.TauDecay, k.TauRise)
}

// span is how long the kernel stays distinguishable from zero
func (k Kernel) span() float64 {
	return 20 * math.Max(k.TauRise, k.TauDecay)
}

// snapshot is the on-disk form of an Atlas
type snapshot struct {
	Strain    string
	NeuronIDs []string
	Kernels   map[string]map[string]Kernel // resp -> stim -> kernel
}

// Atlas is a loaded functional atlas for one strain
type Atlas struct {
	strain  string
	ids     []string
	index   map[string]int
	kernels map[string]map[string]Kernel
}

// New creates an empty atlas over the given neuron ids
func New(strain string, ids []string) *Atlas {
	a := &Atlas{
		strain:  strain,
		ids:     make([]string, 0, len(ids)),
		index:   make(map[string]int, len(ids)),
		kernels: make(map[string]map[string]Kernel),
	}
	for _, id := range ids {
		if _, dup := a.index[id]; dup {
			continue
		}
		a.index[id] = len(a.ids)
		a.ids = append(a.ids, id)
	}
	return a
}

// SetKernel records the response of resp to stimulation of stim
func (a *Atlas) SetKernel(resp, stim string, k Kernel) error {
	if !a.Has(resp) {
		return fmt.Errorf("%w: %s", ErrNeuronNotFound, resp)
	}
	if !a.Has(stim) {
		return fmt.Errorf("%w: %s", ErrNeuronNotFound, stim)
	}
	if k.TauRise <= 0 || k.TauDecay <= 0 {
		return fmt.Errorf("kernel %s<-%s: time constants must be positive", resp, stim)
	}
	if k.Confidence < 0 || k.Confidence > 1 {
		return fmt.Errorf("kernel %s<-%s: confidence %v outside [0, 1]", resp, stim, k.Confidence)
	}
	row, ok := a.kernels[resp]
	if !ok {
		row = make(map[string]Kernel)
		a.kernels[resp] = row
	}
	row[stim] = k
	return nil
}

// Kernel returns the kernel for a neuron pair, if one was measured
func (a *Atlas) Kernel(resp, stim string) (Kernel, bool) {
	k, ok := a.kernels[resp][stim]
	return k, ok
}

// Strain returns the strain the atlas was built for
func (a *Atlas) Strain() string {
	return a.strain
}

// Has reports whether id is one of the atlas neurons
func (a *Atlas) Has(id string) bool {
	_, ok := a.index[id]
	return ok
}

// NeuronIDs lists the atlas neurons in snapshot order.
// With stim set, only neurons that drive at least one kernel are listed.
func (a *Atlas) NeuronIDs(stim bool) []string {
	if !stim {
		out := make([]string, len(a.ids))
		copy(out, a.ids)
		return out
	}

	drives := make(map[string]bool)
	for _, row := range a.kernels {
		for s := range row {
			drives[s] = true
		}
	}
	out := make([]string, 0, len(drives))
	for _, id := range a.ids {
		if drives[id] {
			out = append(out, id)
		}
	}
	return out
}

// FromFile loads a snapshot from folder/name
func FromFile(folder, name string) (*Atlas, error) {
	f, err := os.Open(filepath.Join(folder, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load atlas %s: %w", name, err)
	}
	return a, nil
}

// Read decodes a snapshot
func Read(r io.Reader) (*Atlas, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, err
	}

	a := New(snap.Strain, snap.NeuronIDs)
	for resp, row := range snap.Kernels {
		for stim, k := range row {
			if err := a.SetKernel(resp, stim, k); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// Write encodes the atlas as a snapshot
func (a *Atlas) Write(w io.Writer) error {
	return gob.NewEncoder(w).Encode(snapshot{
		Strain:    a.strain,
		NeuronIDs: a.ids,
		Kernels:   a.kernels,
	})
}

// Save writes the atlas snapshot to path
func (a *Atlas) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create atlas directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write atlas: %w", err)
	}
	return f.Close()
}
