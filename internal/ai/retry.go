package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// RetryOptions controls WithRetry. MaxRetries counts attempts, the first one included.
type RetryOptions struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RetryAllErrors bool

	OnRetry func(attempt int, err error, delay time.Duration)
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

func (o RetryOptions) withDefaults() RetryOptions {
	d := DefaultRetryOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	return o
}

// RateLimitError is returned for HTTP 429 responses. Header keeps the
// rate-limit headers so the retry delay can honour them.
type RateLimitError struct {
	StatusCode int
	Header     http.Header
	Body       string
}

func (e *RateLimitError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, msg)
}

var retryAfterHeaders = []string{"Retry-After", "X-RateLimit-Reset", "RateLimit-Reset"}

// RetryAfter returns the wait the server asked for. Numeric values larger than
// the current unix time are absolute reset times, smaller ones are seconds.
func (e *RateLimitError) RetryAfter(now time.Time) (time.Duration, bool) {
	for _, name := range retryAfterHeaders {
		v := strings.TrimSpace(e.Header.Get(name))
		if v == "" {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			if n > now.Unix() {
				return nonNegative(time.Unix(n, 0).Sub(now)), true
			}
			return time.Duration(n) * time.Second, true
		}
		if t, err := http.ParseTime(v); err == nil {
			return nonNegative(t.Sub(now)), true
		}
	}
	return 0, false
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// IsRateLimit reports whether err is an HTTP 429 from any of our clients.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

func (o RetryOptions) delay(attempt int, err error, now time.Time) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if d, ok := rl.RetryAfter(now); ok {
			return d
		}
	}
	d := o.BaseDelay
	for i := 0; i < attempt && d < o.MaxDelay; i++ {
		d *= 2
	}
	if d > o.MaxDelay {
		d = o.MaxDelay
	}
	return d
}

// WithRetry re-invokes fn when its stream fails before producing any chunk.
// Once a chunk has been forwarded the failure is passed through as is;
// replaying the request would duplicate output the caller already saw.
func WithRetry(opts RetryOptions, logger *zap.Logger, fn StreamFunc) StreamFunc {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context) (<-chan Chunk, <-chan error) {
		out := make(chan Chunk, 16)
		outErr := make(chan error, 1)

		go func() {
			defer close(out)
			defer close(outErr)

			for attempt := 0; ; attempt++ {
				chunks, errs := fn(ctx)

				forwarded := false
				for c := range chunks {
					forwarded = true
					select {
					case out <- c:
					case <-ctx.Done():
						go drain(chunks, errs)
						outErr <- ctx.Err()
						return
					}
				}

				err := <-errs
				if err == nil {
					return
				}

				last := attempt >= opts.MaxRetries-1
				retryable := opts.RetryAllErrors || IsRateLimit(err)
				if forwarded || last || !retryable {
					outErr <- err
					return
				}

				delay := opts.delay(attempt, err, time.Now())
				logger.Warn("stream attempt failed, retrying",
					zap.Int("attempt", attempt+1),
					zap.Int("max_attempts", opts.MaxRetries),
					zap.Duration("delay", delay),
					zap.Error(err))
				if opts.OnRetry != nil {
					opts.OnRetry(attempt+1, err, delay)
				}

				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					outErr <- ctx.Err()
					return
				case <-t.C:
				}
			}
		}()

		return out, outErr
	}
}

func drain(chunks <-chan Chunk, errs <-chan error) {
	for range chunks {
	}
	for range errs {
	}
}
