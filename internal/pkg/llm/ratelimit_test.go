package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, IsRateLimitError(nil))
	assert.True(t, IsRateLimitError(fmt.Errorf("wrap: %w", &StatusError{Code: http.StatusTooManyRequests})))
	assert.True(t, IsRateLimitError(errors.New("Rate limit reached for gpt-4o")))
	assert.False(t, IsRateLimitError(&StatusError{Code: http.StatusBadGateway, Body: "bad gateway"}))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 20*time.Second, RetryAfter(errors.New("rate limit reached. Please try again in 20s.")))
	assert.Equal(t, 1500*time.Millisecond, RetryAfter(errors.New("Rate limit: try again in 1.5s")))
	assert.Equal(t, 2*time.Minute, RetryAfter(errors.New("quota exceeded, retry after 2m")))
	assert.Zero(t, RetryAfter(errors.New("rate limit reached")))
	assert.Zero(t, RetryAfter(errors.New("connection reset, try again in 5s")))
}
