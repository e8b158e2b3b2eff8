package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errMissing = stderrors.New("challenge not found")

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    bool
		pattern string
	}{
		{"nil", nil, false, ""},
		{"refused", fmt.Errorf("orchestrator GET /api/v1/challenges/1: dial tcp 10.0.0.1:80: connection refused"), true, "connection refused"},
		{"unavailable", fmt.Errorf("orchestrator POST /x: status 503: openstack is down"), true, "status 503"},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true, "context deadline exceeded"},
		{"bad request", fmt.Errorf("orchestrator POST /x: status 400: bad mode"), false, ""},
		{"not found", errMissing, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, pattern := IsTransientError(tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.pattern, pattern)
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "transient", Kind(fmt.Errorf("status 502"), errMissing))
	assert.Equal(t, "not_found", Kind(fmt.Errorf("wrap: %w", errMissing), errMissing))
	assert.Equal(t, "other", Kind(fmt.Errorf("boom"), errMissing))
	assert.Equal(t, "other", Kind(fmt.Errorf("boom"), nil))
}
