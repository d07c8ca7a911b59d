package autosave

import "time"

// scheduleFunc schedules fn to run once after d and returns a cancel
// function. Cancel reports whether it stopped the task before it ran.
// Production code uses timerSchedule; tests inject a manual scheduler.
type scheduleFunc func(d time.Duration, fn func()) (cancel func() bool)

func timerSchedule(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// debouncer holds at most one pending delayed task. Scheduling a new task
// supersedes the previous one: the pending task is cancelled, never queued.
// Not safe for concurrent use; callers serialize access.
type debouncer struct {
	schedule scheduleFunc
	cancel   func() bool
}

func newDebouncer(schedule scheduleFunc) *debouncer {
	if schedule == nil {
		schedule = timerSchedule
	}
	return &debouncer{schedule: schedule}
}

// Schedule arranges for fn to run after d, cancelling any pending task.
func (b *debouncer) Schedule(d time.Duration, fn func()) {
	b.Cancel()
	b.cancel = b.schedule(d, fn)
}

// Cancel stops the pending task, if any.
func (b *debouncer) Cancel() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}
