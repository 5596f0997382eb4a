package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/chat"
	"gorm.io/gorm"
)

func TestStreamErrorMessage(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		msg   string
		known bool
	}{
		{"not found", fmt.Errorf("load session: %w", gorm.ErrRecordNotFound), "session not found", true},
		{"provider", fmt.Errorf("%w: bedrock", chat.ErrUnsupportedProvider), "unsupported ai provider", true},
		{"token", fmt.Errorf("build: %w", ai.ErrClarifaiTokenRequired), "api key required for this provider", true},
		{"rate limit", &ai.RateLimitError{StatusCode: http.StatusTooManyRequests}, "provider rate limit exceeded", true},
		{"timeout", fmt.Errorf("stream: %w", context.DeadlineExceeded), "provider timed out", false},
		{"driver", errors.New("Error 1045: Access denied for user 'app'@'10.0.0.5'"), "upstream provider error", false},
		{"dial", errors.New(`Post "http://10.0.0.5:6379/api/chat": dial tcp 10.0.0.5:6379: connection refused`), "upstream provider error", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, known := streamErrorMessage(tc.err)
			assert.Equal(t, tc.msg, msg)
			assert.Equal(t, tc.known, known)
			assert.NotContains(t, msg, "10.0.0.5")
		})
	}
}
