package pipeline

import "math/rand/v2"

// Generator binds a request's seed to the compute device that will consume
// it. Remote backends forward Seed and Device and seed their own runtime;
// backends running in process draw from Uint64, a PCG stream that two
// generators built from the same pair reproduce exactly.
type Generator struct {
	seed   uint64
	device string
	rng    *rand.Rand
}

// seedMix decorrelates the second PCG word from the first.
const seedMix = 0x9e3779b97f4a7c15

func NewGenerator(device string, seed uint64) *Generator {
	return &Generator{
		seed:   seed,
		device: device,
		rng:    rand.New(rand.NewPCG(seed, seed^seedMix)),
	}
}

func (g *Generator) Seed() uint64 { return g.seed }
func (g *Generator) Device() string { return g.device }

// Uint64 returns the next value of the seeded stream.
func (g *Generator) Uint64() uint64 { return g.rng.Uint64() }
