package simulator

import (
	"math/rand"
	"sync"
	"time"
)

// RandomSource abstracts the randomness behind spike/dropout decisions
// and baseline noise so tests can substitute deterministic sequences.
type RandomSource interface {
	Float64() float64
}

type lockedRandom struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewRandomSource returns a time-seeded source safe for concurrent use.
func NewRandomSource() RandomSource {
	return &lockedRandom{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeededRandomSource returns a reproducible source for tests.
func NewSeededRandomSource(seed int64) RandomSource {
	return &lockedRandom{rand: rand.New(rand.NewSource(seed))}
}

func (l *lockedRandom) Float64() float64 {
	l.mu.Lock()
	value := l.rand.Float64()
	l.mu.Unlock()
	return value
}

// Uniform maps a source draw onto the [min, max) interval.
func Uniform(source RandomSource, min, max float64) float64 {
	return min + (max-min)*source.Float64()
}
