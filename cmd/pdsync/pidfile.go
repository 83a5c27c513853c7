package main

import (
	"fmt"

	"github.com/gofrs/flock"
)

// acquireLock takes an exclusive, non-blocking lock on path, preventing a
// second `start` from running against the same state directory. The
// returned release function must be called once the engine stops.
func acquireLock(path string) (release func() error, err error) {
	lock := flock.New(path)

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}

	if !locked {
		return nil, fmt.Errorf("another pdsync instance is already running against this state directory (lock held at %s)", path)
	}

	return lock.Unlock, nil
}
