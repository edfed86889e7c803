package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/agrivoice/pkg/metrics"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	m := metrics.New("test")
	tr := NewTracker(m)
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s1", Handle{})
	u2 := tr.Register("s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}
	if got := testutil.ToFloat64(m.StreamClientsActive); got != 2 {
		t.Fatalf("gauge=%v, want 2", got)
	}

	u1()
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if got := testutil.ToFloat64(m.StreamClientsActive); got != 0 {
		t.Fatalf("gauge=%v, want 0", got)
	}
}

func TestTracker_ReRegisterReplaces(t *testing.T) {
	tr := NewTracker(nil)
	tr.Register("s1", Handle{})
	tr.Register("s1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker(nil)
	var c1, c2 atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_WarnAll_BestEffort(t *testing.T) {
	tr := NewTracker(nil)
	var w1, w2 atomic.Int64
	tr.Register("s1", Handle{Warn: func(string, string) error {
		w1.Add(1)
		return nil
	}})
	tr.Register("s2", Handle{Warn: func(string, string) error {
		w2.Add(1)
		return errors.New("nope")
	}})
	tr.Register("s3", Handle{})

	if sent := tr.WarnAll("draining", "test"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := NewTracker(nil)
	tr.Register("s1", Handle{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("expected Wait to time out")
	}
}
