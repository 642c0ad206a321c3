package core

// Determinism providers: the job manager, mana ledger, reputation store,
// executor agent and sandbox take a TimeProvider/RngProvider rather than
// calling time.Now or math/rand directly, so their logic can be replayed
// deterministically under test. The DAG store (pin expiry, cache
// timestamps) and the overlay (replay window, inbound timestamps) call
// time.Now directly.

import (
	"math/rand"
	"time"
)

// systemClock is the production TimeProvider, backed by the real clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the shared production TimeProvider instance.
var SystemClock TimeProvider = systemClock{}

// systemRng is the production RngProvider, backed by a process-wide PRNG
// seeded from the OS entropy source at startup.
type systemRng struct {
	r *rand.Rand
}

// NewSystemRng seeds a new RngProvider from crypto-random entropy.
func NewSystemRng() RngProvider {
	seedBytes, err := RandomMnemonicEntropy(64)
	var seed int64
	if err == nil && len(seedBytes) >= 8 {
		for i := 0; i < 8; i++ {
			seed = seed<<8 | int64(seedBytes[i])
		}
	} else {
		seed = time.Now().UnixNano()
	}
	return &systemRng{r: rand.New(rand.NewSource(seed))}
}

func (s *systemRng) Float64() float64    { return s.r.Float64() }
func (s *systemRng) Int63n(n int64) int64 { return s.r.Int63n(n) }

// FakeClock is a deterministic TimeProvider for tests: it never advances
// except when told to.
type FakeClock struct {
	t time.Time
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock { return &FakeClock{t: t} }

func (f *FakeClock) Now() time.Time { return f.t }

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// FakeRng is a deterministic RngProvider for tests, backed by a seeded PRNG
// so test runs are reproducible.
type FakeRng struct {
	r *rand.Rand
}

// NewFakeRng returns a FakeRng seeded with the given value.
func NewFakeRng(seed int64) *FakeRng {
	return &FakeRng{r: rand.New(rand.NewSource(seed))}
}

func (f *FakeRng) Float64() float64     { return f.r.Float64() }
func (f *FakeRng) Int63n(n int64) int64 { return f.r.Int63n(n) }
