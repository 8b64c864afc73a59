package beacon

// Sampler decides, once per identity, whether this visitor participates
// in telemetry at all. The decision is a pure function of the identity
// string, so the same visitor is consistently in or out across the
// whole session (cohort sampling, not per-event coin flips).
type Sampler struct {
	rate     float64
	identity string
}

// NewSampler creates a sampler for the given rate and identity. Rates
// at or above 1 always include, at or below 0 always exclude.
func NewSampler(rate float64, identity string) *Sampler {
	return &Sampler{rate: rate, identity: identity}
}

// SampledIn reports whether this identity's bucket falls under the
// configured rate.
func (s *Sampler) SampledIn() bool {
	if s.rate >= 1 {
		return true
	}
	if s.rate <= 0 {
		return false
	}
	bucket := identityBucket(s.identity)
	return float64(bucket)/100 < s.rate
}

// identityBucket maps an identity string to [0,100) with a polynomial
// rolling hash over int32 wraparound arithmetic.
func identityBucket(identity string) int32 {
	var hash int32
	for _, b := range []byte(identity) {
		hash = hash*31 + int32(b)
	}
	bucket := hash % 100
	if bucket < 0 {
		bucket = -bucket
	}
	return bucket
}
