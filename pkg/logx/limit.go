package logx

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps a Logger so repeated warnings of one kind are throttled.
// Suppressed messages are counted and reported on the next one that passes.
type Limited struct {
	log        Logger
	lim        *rate.Limiter
	suppressed atomic.Int64
}

// NewLimited allows one message per every, with the given burst.
func NewLimited(log Logger, every time.Duration, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Inf, burst)
	if every > 0 {
		lim = rate.NewLimiter(rate.Every(every), burst)
	}
	return &Limited{log: log, lim: lim}
}

func (l *Limited) Warn(msg string, fields ...Field) {
	if l == nil {
		return
	}
	if !l.lim.Allow() {
		l.suppressed.Add(1)
		return
	}
	if n := l.suppressed.Swap(0); n > 0 {
		fields = append(fields, Int64("suppressed", n))
	}
	l.log.Warn(msg, fields...)
}

// Suppressed reports how many messages were dropped since the last one logged.
func (l *Limited) Suppressed() int64 { return l.suppressed.Load() }
