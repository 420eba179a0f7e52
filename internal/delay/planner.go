// Package delay computes the pauses between the parts of a paced reply.
package delay

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Mode defines how gaps between consecutive parts are chosen.
type Mode string

const (
	ModeNone       Mode = "none"       // no pauses at all
	ModeSimple     Mode = "simple"     // fixed pause between parts
	ModeRandom     Mode = "random"     // uniform random pause per pair
	ModeStructured Mode = "structured" // model-chosen pauses (not implemented)
)

var (
	ErrUnknownMode       = errors.New("unknown delay mode")
	ErrUnimplementedMode = errors.New("delay mode not implemented")
	ErrInvalidPolicy     = errors.New("invalid delay policy")
)

// ParseMode converts a config string into a Mode. An empty string means ModeNone.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeNone, nil
	case ModeNone, ModeSimple, ModeRandom, ModeStructured:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Policy holds the pacing parameters.
type Policy struct {
	Mode        Mode
	BeforeFirst time.Duration // extra wait before the first part
	Simple      time.Duration // gap between parts in ModeSimple
	RandomMin   time.Duration // lower bound of the gap in ModeRandom
	RandomMax   time.Duration // upper bound of the gap in ModeRandom
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeNone, ModeSimple, ModeRandom:
	case ModeStructured:
		return fmt.Errorf("%w: %s", ErrUnimplementedMode, p.Mode)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, p.Mode)
	}
	if p.BeforeFirst < 0 || p.Simple < 0 {
		return fmt.Errorf("%w: delays must be non-negative", ErrInvalidPolicy)
	}
	if p.RandomMin < 0 {
		return fmt.Errorf("%w: random minimum %s is negative", ErrInvalidPolicy, p.RandomMin)
	}
	if p.RandomMax < p.RandomMin {
		return fmt.Errorf("%w: random maximum %s is below minimum %s", ErrInvalidPolicy, p.RandomMax, p.RandomMin)
	}
	return nil
}

// Planner turns a Policy into concrete gaps. Safe for concurrent use.
type Planner struct {
	policy Policy

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPlanner validates the policy. A nil rng gets a randomly seeded source.
func NewPlanner(policy Policy, rng *rand.Rand) (*Planner, error) {
	if policy.Mode == "" {
		policy.Mode = ModeNone
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Planner{policy: policy, rng: rng}, nil
}

// Policy returns the validated policy.
func (p *Planner) Policy() Policy { return p.policy }

// Gap returns the additional wait before part index, measured from the
// previous part (or from generation completion for index 0).
func (p *Planner) Gap(index int) time.Duration {
	switch p.policy.Mode {
	case ModeSimple:
		if index == 0 {
			return p.policy.BeforeFirst
		}
		return p.policy.Simple
	case ModeRandom:
		if index == 0 {
			return p.policy.BeforeFirst
		}
		return p.uniform(p.policy.RandomMin, p.policy.RandomMax)
	default:
		return 0
	}
}

// Plan returns the planned send time of each of n parts starting at start.
// The result is non-decreasing.
func (p *Planner) Plan(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	at := start
	for i := range out {
		at = at.Add(p.Gap(i))
		out[i] = at
	}
	return out
}

func (p *Planner) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + time.Duration(p.rng.Int64N(int64(hi-lo)+1))
}
