package plugins

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"periph.io/x/host/v3/cpu"
)

// criticalMu serializes critical sections across all sensors. Only one
// bit-banged transfer runs at a time on the host.
var criticalMu sync.Mutex

// SpinHost implements pyd1598.Host for real hardware. Delays spin on the
// CPU; critical sections pin the goroutine to its thread, pause the garbage
// collector and optionally switch the thread to real-time scheduling.
type SpinHost struct {
	realtime bool
}

func NewSpinHost(realtime bool) *SpinHost {
	if realtime {
		lockMemory()
	}
	return &SpinHost{realtime: realtime}
}

func (h *SpinHost) Delay(d time.Duration) {
	cpu.Nanospin(d)
}

func (h *SpinHost) Critical(fn func() error) error {
	criticalMu.Lock()
	defer criticalMu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	gc := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gc)

	if h.realtime {
		restore := raisePriority()
		defer restore()
	}
	return fn()
}
