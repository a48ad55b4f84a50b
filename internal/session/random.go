package session

import (
	"math/rand"
	"sync"
	"time"
)

// Random draws durations from a range. Tests inject a deterministic one.
type Random interface {
	Between(min, max time.Duration) time.Duration
}

// RandomFunc adapts a function to Random.
type RandomFunc func(min, max time.Duration) time.Duration

func (f RandomFunc) Between(min, max time.Duration) time.Duration { return f(min, max) }

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom returns a Random seeded from the clock.
func NewRandom() Random {
	return &lockedRand{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *lockedRand) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + time.Duration(r.rng.Int63n(int64(max-min)+1))
}
