package plugins

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

const rtPriority = 50

var memlockOnce sync.Once

// lockMemory keeps the process resident so a page fault cannot stall a
// transfer.
func lockMemory() {
	memlockOnce.Do(func() {
		if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
			slog.Warn("mlockall failed, running without locked memory", "error", err)
		}
	})
}

// raisePriority moves the calling thread to SCHED_FIFO and returns a func
// restoring its previous policy. Failures are logged and ignored; the
// transfer still runs, with worse timing guarantees.
func raisePriority() func() {
	prev, err := unix.SchedGetAttr(0, 0)
	if err != nil {
		slog.Debug("sched_getattr failed", "error", err)
		return func() {}
	}

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: rtPriority,
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		slog.Debug("sched_setattr SCHED_FIFO failed", "error", err)
		return func() {}
	}

	return func() {
		if err := unix.SchedSetAttr(0, prev, 0); err != nil {
			slog.Warn("failed to restore scheduling policy", "error", err)
		}
	}
}
