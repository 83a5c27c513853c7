package processor

import (
	"log/slog"
	"sync"
	"time"
)

// failureLogThreshold and failureLogCooldown bound how many times in a row
// the same path's execute failure gets a full Warn line before the
// processor starts suppressing the repeats, grounded on the same
// threshold/cooldown shape as the teacher's watch-mode failure tracker.
const (
	failureLogThreshold = 3
	failureLogCooldown  = 30 * time.Minute
)

type failureRecord struct {
	count  int
	lastAt time.Time
}

// failureTracker rate-limits logging of repeated execute failures for the
// same local path. It never changes the retry/convert/block decision in
// handleFailure — section 4.4 still owns that — it only keeps watch mode
// from re-logging the same permanently-broken path on every tick.
type failureTracker struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time
}

func newFailureTracker(logger *slog.Logger) *failureTracker {
	if logger == nil {
		logger = slog.Default()
	}

	return &failureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// shouldSuppressLog reports whether path has already crossed
// failureLogThreshold within the current cooldown window.
func (ft *failureTracker) shouldSuppressLog(path string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[path]
	if !ok {
		return false
	}

	if ft.nowFunc().Sub(rec.lastAt) > failureLogCooldown {
		delete(ft.records, path)
		return false
	}

	return rec.count >= failureLogThreshold
}

// recordFailure increments path's failure count, resetting it first if the
// cooldown has already elapsed, and logs a one-time suppression notice the
// moment it crosses the threshold.
func (ft *failureTracker) recordFailure(path, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[path]
	if !ok {
		rec = &failureRecord{}
		ft.records[path] = rec
	} else if ft.nowFunc().Sub(rec.lastAt) > failureLogCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastAt = ft.nowFunc()

	if rec.count == failureLogThreshold {
		ft.logger.Warn("processor: suppressing further failure logs for path",
			"local_path", path, "failures", rec.count, "last_error", errMsg, "cooldown", failureLogCooldown)
	}
}

// recordSuccess clears path's failure record, so a later regression starts
// counting from zero again.
func (ft *failureTracker) recordSuccess(path string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, path)
}
