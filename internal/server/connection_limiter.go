package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitReason labels why a handshake was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits gates new sessions behind three checks: a per-IP
// token bucket on connection attempts, an instance-wide concurrent
// session cap, and a per-IP concurrent session cap.
type ConnectionLimits struct {
	globalMax int64
	current   atomic.Int64

	mu        sync.Mutex
	perIP     map[string]int
	perIPMax  int
	buckets   map[string]*ipBucket
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(globalMax int64, perIPMax int, perSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		globalMax: globalMax,
		perIP:     make(map[string]int),
		perIPMax:  perIPMax,
		buckets:   make(map[string]*ipBucket),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		cleanupAt: time.Now().Add(5 * time.Minute),
	}
}

// Acquire claims a session slot for the given IP. On rejection the
// returned reason names the limit that fired and nothing is held.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowRate(ip) {
		return false, LimitReasonRate
	}

	for {
		current := l.current.Load()
		if current >= l.globalMax {
			return false, LimitReasonGlobal
		}
		if l.current.CompareAndSwap(current, current+1) {
			break
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perIP[ip] >= l.perIPMax {
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	l.perIP[ip]++
	return true, ""
}

// Release returns the slot claimed by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	if count := l.perIP[ip]; count > 0 {
		if count == 1 {
			delete(l.perIP, ip)
		} else {
			l.perIP[ip] = count - 1
		}
	}
	l.mu.Unlock()
	l.current.Add(-1)
}

// Current returns the number of held session slots.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) allowRate(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-10 * time.Minute)
		for key, bucket := range l.buckets {
			if bucket.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.cleanupAt = now.Add(5 * time.Minute)
	}

	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}
