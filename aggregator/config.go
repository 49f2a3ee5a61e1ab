package aggregator

import (
	"fmt"
	"runtime"
)

// FailurePolicy decides what a per-package failure does to the round.
type FailurePolicy string

const (
	// AbortOnInvalid fails the round on the first invalid package.
	AbortOnInvalid FailurePolicy = "abort"
	// ExcludeInvalid drops invalid packages and reports them.
	ExcludeInvalid FailurePolicy = "exclude"
)

// MismatchPolicy decides how updates of different lengths are combined.
type MismatchPolicy string

const (
	// MismatchStrict fails the round with a *protocol.ShapeMismatchError.
	MismatchStrict MismatchPolicy = "strict"
	// MismatchPad zero-pads shorter updates to the longest one.
	MismatchPad MismatchPolicy = "pad"
)

// ParseFailurePolicy parses a policy name; the empty string is AbortOnInvalid.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", AbortOnInvalid:
		return AbortOnInvalid, nil
	case ExcludeInvalid:
		return ExcludeInvalid, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

// ParseMismatchPolicy parses a policy name; the empty string is MismatchStrict.
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch MismatchPolicy(s) {
	case "", MismatchStrict:
		return MismatchStrict, nil
	case MismatchPad:
		return MismatchPad, nil
	}
	return "", fmt.Errorf("unknown mismatch policy %q", s)
}

// Config controls a round.
type Config struct {
	// Workers bounds concurrent package verification.
	Workers        int
	FailurePolicy  FailurePolicy
	MismatchPolicy MismatchPolicy
	// MinInputs is the smallest number of valid updates that may be published.
	MinInputs int
}

// DefaultConfig aborts on any invalid package and on any shape mismatch.
func DefaultConfig() Config {
	return Config{
		Workers:        runtime.NumCPU(),
		FailurePolicy:  AbortOnInvalid,
		MismatchPolicy: MismatchStrict,
		MinInputs:      1,
	}
}

func (c Config) normalized() (Config, error) {
	var err error
	if c.FailurePolicy, err = ParseFailurePolicy(string(c.FailurePolicy)); err != nil {
		return c, err
	}
	if c.MismatchPolicy, err = ParseMismatchPolicy(string(c.MismatchPolicy)); err != nil {
		return c, err
	}
	if c.Workers < 1 {
		c.Workers = runtime.NumCPU()
	}
	if c.MinInputs < 1 {
		c.MinInputs = 1
	}
	return c, nil
}
