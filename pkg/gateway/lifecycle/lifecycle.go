// Package lifecycle holds the drain flag shared by readiness and the stream
// upgrade path during graceful shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	// drainStart is the drain start in unix nanoseconds; zero means serving.
	drainStart atomic.Int64
}

// SetDraining starts or ends a drain. Starting an ongoing drain keeps the
// original start time.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if !draining {
		l.drainStart.Store(0)
		return
	}
	l.drainStart.CompareAndSwap(0, time.Now().UnixNano())
}

func (l *Lifecycle) IsDraining() bool {
	return !l.DrainingSince().IsZero()
}

// DrainingSince returns when the drain began, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	ns := l.drainStart.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
