// Package backoff classifies DriveClient errors into retry tiers and
// computes the delay before a job's next attempt, per the error
// classification table in the job queue design.
package backoff

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Class is one of the five error tiers the job queue reacts to.
type Class string

const (
	ClassTransientNetwork Class = "TRANSIENT_NETWORK"
	ClassRateLimited      Class = "RATE_LIMITED"
	ClassReuploadNeeded   Class = "REUPLOAD_NEEDED"
	ClassClientState      Class = "CLIENT_STATE"
	ClassPermanent        Class = "PERMANENT"
)

// Sentinel errors a DriveClient implementation wraps its failures with so
// that Classify can route them without depending on transport internals.
var (
	ErrTransientNetwork = errors.New("backoff: transient network failure")
	ErrRateLimited      = errors.New("backoff: rate limited")
	ErrReuploadNeeded   = errors.New("backoff: reupload needed")
	ErrClientState      = errors.New("backoff: client state inconsistent")
	ErrPermanent        = errors.New("backoff: permanent failure")
)

// Classify maps an error returned by the DriveClient (or a missing
// NodeMapping discovered locally) to its retry class.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrReuploadNeeded):
		return ClassReuploadNeeded
	case errors.Is(err, ErrClientState):
		return ClassClientState
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	default:
		// Anything unrecognized is treated as a transient network condition:
		// the safer failure mode is an extra retry, not a silently dropped job.
		return ClassTransientNetwork
	}
}

// Policy describes the retry ceiling and delay function for one class.
type Policy struct {
	MaxRetries int // -1 means unbounded
	Delay      func(nRetries int, serverHint time.Duration) time.Duration
}

// Policies is the contract table from the job queue design, keyed by Class.
var Policies = map[Class]Policy{
	ClassTransientNetwork: {
		MaxRetries: -1,
		Delay:      jittered(capped(exponential(1*time.Second), 5*time.Minute)),
	},
	ClassRateLimited: {
		MaxRetries: -1,
		Delay:      rateLimitDelay,
	},
	ClassReuploadNeeded: {
		MaxRetries: 5,
		Delay:      jittered(capped(exponential(1*time.Second), 2*time.Minute)),
	},
	ClassClientState: {
		MaxRetries: 3,
		Delay:      flat(5 * time.Second),
	},
	ClassPermanent: {
		MaxRetries: 0,
		Delay:      flat(0),
	},
}

// ShouldBlock reports whether a job of class c with nRetries already
// attempted must now transition to BLOCKED instead of retrying.
func ShouldBlock(c Class, nRetries int) bool {
	p, ok := Policies[c]
	if !ok {
		return true
	}

	return p.MaxRetries >= 0 && nRetries >= p.MaxRetries
}

// ShouldConvertToDeleteAndCreate reports whether a REUPLOAD_NEEDED failure
// has retried enough times (n>=2) that the job should be converted to a
// DELETE_AND_CREATE instead of retried as-is.
func ShouldConvertToDeleteAndCreate(c Class, nRetries int) bool {
	return c == ClassReuploadNeeded && nRetries >= 2
}

// NextDelay computes the delay before the next attempt of a job currently
// at nRetries, honoring a server-provided hint (e.g. a Retry-After header)
// where the class allows it.
func NextDelay(c Class, nRetries int, serverHint time.Duration) time.Duration {
	p, ok := Policies[c]
	if !ok {
		return 0
	}

	return p.Delay(nRetries, serverHint)
}

func exponential(base time.Duration) func(int, time.Duration) time.Duration {
	return func(nRetries int, _ time.Duration) time.Duration {
		factor := math.Pow(2, float64(nRetries))
		return time.Duration(factor * float64(base))
	}
}

func capped(f func(int, time.Duration) time.Duration, max time.Duration) func(int, time.Duration) time.Duration {
	return func(nRetries int, hint time.Duration) time.Duration {
		d := f(nRetries, hint)
		if d > max {
			return max
		}

		return d
	}
}

// jitter is applied as +/-20%, matching the transient-network policy.
func jittered(f func(int, time.Duration) time.Duration) func(int, time.Duration) time.Duration {
	return func(nRetries int, hint time.Duration) time.Duration {
		d := f(nRetries, hint)
		spread := float64(d) * 0.2
		delta := (rand.Float64()*2 - 1) * spread

		return time.Duration(float64(d) + delta)
	}
}

func flat(d time.Duration) func(int, time.Duration) time.Duration {
	return func(int, time.Duration) time.Duration {
		return d
	}
}

const defaultRateLimitDelay = 30 * time.Second

func rateLimitDelay(_ int, serverHint time.Duration) time.Duration {
	if serverHint > 0 {
		return serverHint
	}

	return defaultRateLimitDelay
}
