// Package ratelimit bounds how fast one client may start upstream work and
// how many state streams it may hold open. State is per process.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Config struct {
	// RPS and Burst shape the token bucket; either at zero disables it.
	RPS   float64
	Burst int
	// MaxStreams caps concurrent /v1/stream connections; zero disables it.
	MaxStreams int

	MaxClients int
	ClientTTL  time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients *expirable.LRU[string, *clientLimiter]
}

type clientLimiter struct {
	mu        sync.Mutex
	tb        tokenBucket
	streamSem chan struct{}
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10_000
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		clients: expirable.NewLRU[string, *clientLimiter](cfg.MaxClients, nil, cfg.ClientTTL),
	}
}

// ClientKey identifies the caller by remote IP.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil || host == "" {
		return "anonymous"
	}
	return host
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AllowRequest takes one token from client's bucket.
func (l *Limiter) AllowRequest(client string, now time.Time) Decision {
	if l == nil || l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	ok, retryAfter := l.get(client).allowToken(now, l.cfg.RPS, l.cfg.Burst)
	return Decision{Allowed: ok, RetryAfter: retryAfter}
}

// AcquireStream reserves a stream slot; the Permit must be released when the
// stream ends.
func (l *Limiter) AcquireStream(client string) Decision {
	if l == nil || l.cfg.MaxStreams <= 0 {
		return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
	}
	cl := l.get(client)
	select {
	case cl.streamSem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-cl.streamSem }}}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) get(client string) *clientLimiter {
	if client == "" {
		client = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cl, ok := l.clients.Get(client); ok {
		return cl
	}
	cl := &clientLimiter{streamSem: make(chan struct{}, max(1, l.cfg.MaxStreams))}
	l.clients.Add(client, cl)
	return cl
}

func (cl *clientLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	capacity := float64(burst)
	if cl.tb.last.IsZero() {
		cl.tb = tokenBucket{tokens: capacity, last: now}
	}

	elapsed := now.Sub(cl.tb.last).Seconds()
	if elapsed > 0 {
		cl.tb.tokens = math.Min(capacity, cl.tb.tokens+elapsed*rps)
		cl.tb.last = now
	}

	if cl.tb.tokens >= 1.0 {
		cl.tb.tokens -= 1.0
		return true, 0
	}

	retryAfter := int(math.Ceil((1.0 - cl.tb.tokens) / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
