package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"transient wrapper", NewTransientError(errors.New("slow down"), 429), true},
		{"wrapped transient", fmt.Errorf("brave: %w", NewTransientError(errors.New("x"), 503)), true},
		{"deadline", context.DeadlineExceeded, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"message heuristic", errors.New("dial tcp: i/o timeout"), true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestStatusError(t *testing.T) {
	err := StatusError("mailgun", http.StatusServiceUnavailable, []byte("try later"))
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "mailgun: unexpected status 503: try later")

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err = StatusError("brave", http.StatusUnauthorized, long)
	assert.False(t, IsTransient(err))
	assert.Less(t, len(err.Error()), 300)
}
