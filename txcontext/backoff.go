package txcontext

import "math/rand"

// BackoffPolicy computes the two randomized-delay families spec.md §4.2
// describes: the BACKOFF-after-abort delay (exponential or linear,
// depending on config) and the generic "randomized(n)" jitter applied to
// commit-delay and abort stall costs.
//
// Grounded on the teacher's policy/manager.go functional-options pattern:
// the With* option setters there become the WithRand constructor option
// below, letting a test inject a deterministic Rand instead of the package-global
// one the source uses unseeded (spec.md §9, "Backoff randomness").
type BackoffPolicy struct {
	rng                *rand.Rand
	applyRandomization bool
	expBackoffBase     int
	linBackoffBound    int
}

// Option configures a BackoffPolicy.
type Option func(*BackoffPolicy)

// WithRand injects a deterministic random source, for reproducible tests.
func WithRand(r *rand.Rand) Option {
	return func(p *BackoffPolicy) { p.rng = r }
}

// NewBackoffPolicy builds a BackoffPolicy from the GCM's backoff config
// (spec.md §6: abortExpBackoff, abortLinBackoff, applyRandomization).
func NewBackoffPolicy(expBackoffBase, linBackoffBound, applyRandomization int, opts ...Option) BackoffPolicy {
	p := BackoffPolicy{
		rng:                rand.New(rand.NewSource(1)),
		applyRandomization: applyRandomization != 0,
		expBackoffBase:     expBackoffBase,
		linBackoffBound:    linBackoffBound,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// AbortBackoff computes the BACKOFF stall after abortCount consecutive
// aborts (spec.md §4.2): exponential if abortExpBackoff is non-zero, else a
// uniform linear draw scaled by abortCount.
func (p BackoffPolicy) AbortBackoff(abortCount int) int {
	if p.expBackoffBase != 0 {
		exp := abortCount % 15
		stall := 1
		for i := 0; i < exp; i++ {
			stall *= p.expBackoffBase
		}
		return stall
	}
	bound := p.linBackoffBound
	if bound <= 0 {
		bound = 1
	}
	draw := 1
	if bound > 1 {
		draw = 1 + p.rng.Intn(bound)
	}
	return draw * abortCount
}

// RandomDelay returns n if randomization is disabled, else a uniform draw
// over a symmetric window around n (spec.md §4.2's getRndDelay: "the
// source samples approximately [0.5n, 1.5n]").
func (p BackoffPolicy) RandomDelay(n int) int {
	if !p.applyRandomization || n <= 0 {
		return n
	}
	low := n / 2
	high := n + n/2
	span := high - low + 1
	if span <= 1 {
		return n
	}
	return low + p.rng.Intn(span)
}
