package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureTracker_SuppressesAfterThreshold(t *testing.T) {
	ft := newFailureTracker(nil)
	if ft.logger == nil {
		t.Fatal("newFailureTracker must default the logger")
	}

	for i := 0; i < failureLogThreshold-1; i++ {
		assert.False(t, ft.shouldSuppressLog("/a.txt"))
		ft.recordFailure("/a.txt", "boom")
	}

	assert.False(t, ft.shouldSuppressLog("/a.txt"))
	ft.recordFailure("/a.txt", "boom")

	assert.True(t, ft.shouldSuppressLog("/a.txt"))
}

func TestFailureTracker_RecordSuccessClears(t *testing.T) {
	ft := newFailureTracker(nil)

	for i := 0; i < failureLogThreshold; i++ {
		ft.recordFailure("/a.txt", "boom")
	}

	assert.True(t, ft.shouldSuppressLog("/a.txt"))

	ft.recordSuccess("/a.txt")

	assert.False(t, ft.shouldSuppressLog("/a.txt"))
}

func TestFailureTracker_CooldownResetsCount(t *testing.T) {
	ft := newFailureTracker(nil)

	now := time.Now()
	ft.nowFunc = func() time.Time { return now }

	for i := 0; i < failureLogThreshold; i++ {
		ft.recordFailure("/a.txt", "boom")
	}

	assert.True(t, ft.shouldSuppressLog("/a.txt"))

	now = now.Add(failureLogCooldown + time.Minute)
	assert.False(t, ft.shouldSuppressLog("/a.txt"), "cooldown elapsed must drop the suppression")
}

func TestFailureTracker_IndependentPaths(t *testing.T) {
	ft := newFailureTracker(nil)

	for i := 0; i < failureLogThreshold; i++ {
		ft.recordFailure("/a.txt", "boom")
	}

	assert.True(t, ft.shouldSuppressLog("/a.txt"))
	assert.False(t, ft.shouldSuppressLog("/b.txt"))
}
