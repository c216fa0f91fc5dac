package compare

import (
	"math/rand/v2"
	"time"
)

// Chooser decides the blind test order.
type Chooser interface {
	// ChooseOrder reports whether the original clip plays first.
	ChooseOrder() bool
}

// RandomChooser flips a fair coin from a PCG source.
type RandomChooser struct {
	rng *rand.Rand
}

// NewRandomChooser returns a chooser seeded with seed. A zero seed uses the
// current time, so runs differ unless a seed is configured.
func NewRandomChooser(seed uint64) *RandomChooser {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomChooser{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (c *RandomChooser) ChooseOrder() bool {
	return c.rng.IntN(2) == 0
}

// FixedChooser always returns its value. Useful for reproducing a test video.
type FixedChooser bool

func (f FixedChooser) ChooseOrder() bool {
	return bool(f)
}
