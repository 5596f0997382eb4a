package ai

import (
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CommonOptions are shared by every handler.
type CommonOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Catalog    *Catalog
	Retry      RetryOptions
	Observer   StreamObserver
}

func (o CommonOptions) logger(provider string) *zap.Logger {
	l := o.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("provider", provider))
}

func (o CommonOptions) catalog() *Catalog {
	if o.Catalog != nil {
		return o.Catalog
	}
	return DefaultCatalog()
}

// httpClient returns the configured client, or one without a global timeout:
// streams can outlive any fixed deadline and ctx bounds them instead.
func (o CommonOptions) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Transport: http.DefaultTransport, Timeout: 0}
}

// retryOptions wires the observer's retry counter into the retry hook.
func (o CommonOptions) retryOptions(provider, model string) RetryOptions {
	r := o.Retry
	if o.Observer != nil {
		next := r.OnRetry
		r.OnRetry = func(attempt int, err error, delay time.Duration) {
			o.Observer.ObserveRetry(provider, model)
			if next != nil {
				next(attempt, err, delay)
			}
		}
	}
	return r
}

// rateLimitDoer turns 429 responses into *RateLimitError so the retry layer
// can read the reset headers, which the SDK's own error type drops.
type rateLimitDoer struct {
	client *http.Client
}

func (d rateLimitDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, rateLimitFromResponse(resp)
}

func rateLimitFromResponse(resp *http.Response) *RateLimitError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	return &RateLimitError{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       string(body),
	}
}
