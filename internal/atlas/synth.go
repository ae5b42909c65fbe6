package atlas

import "math/rand"

// Synthesize builds a deterministic atlas with random kernels between a
// fraction of the neuron pairs. It stands in for measured data in development
// setups and tests.
func Synthesize(strain string, ids []string, seed int64, density float64) *Atlas {
	rng := rand.New(rand.NewSource(seed))
	a := New(strain, ids)

	for _, resp := range a.ids {
		for _, stim := range a.ids {
			if resp == stim || rng.Float64() >= density {
				continue
			}
			rise := 0.2 + 1.8*rng.Float64()
			k := Kernel{
				Gain:       2*rng.Float64() - 1,
				TauRise:    rise,
				TauDecay:   rise + 0.5 + 9.5*rng.Float64(),
				Confidence: 0.2 + 0.8*rng.Float64(),
			}
			// ids are known and constants positive, so this cannot fail
			_ = a.SetKernel(resp, stim, k)
		}
	}
	return a
}
