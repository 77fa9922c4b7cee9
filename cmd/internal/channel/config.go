package channel

import (
	"errors"
	"strings"
	"time"
)

const (
	defaultDialTimeout  = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 64
	defaultOrigin       = "http://localhost"

	maxInboundFrameBytes = 64 << 10 // 64 KiB
)

// RetryPolicy bounds reconnect backoff. MaxAttempts 0 retries forever.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy waits 1s, then 2s between attempts, forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: time.Second, Max: 2 * time.Second}
}

// Delay returns the wait before the given retry (1-based), doubling from Initial up to Max.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Exhausted reports whether attempt consecutive failures use up the policy.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Config describes the relay endpoint and connection behavior.
type Config struct {
	URL    string
	Origin string

	Retry        RetryPolicy
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// SendBuffer bounds messages held while disconnected; the oldest is dropped first.
	SendBuffer int
}

// DefaultConfig returns the client defaults for the relay at url.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		Origin:       defaultOrigin,
		Retry:        DefaultRetryPolicy(),
		DialTimeout:  defaultDialTimeout,
		WriteTimeout: defaultWriteTimeout,
		SendBuffer:   defaultSendBuffer,
	}
}

func (c Config) normalize() (Config, error) {
	c.URL = strings.TrimSpace(c.URL)
	if c.URL == "" {
		return c, errors.New("channel: missing relay url")
	}
	if c.Retry.Initial <= 0 {
		c.Retry.Initial = time.Second
	}
	if c.Retry.Max < c.Retry.Initial {
		c.Retry.Max = c.Retry.Initial
	}
	if c.Retry.MaxAttempts < 0 {
		c.Retry.MaxAttempts = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	return c, nil
}
