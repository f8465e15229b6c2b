package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	m := NewDefaultErrorMapper()

	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"missing file", fmt.Errorf("open /x: no such file or directory"), ErrNotFound},
		{"timeout", fmt.Errorf("dial tcp: i/o timeout"), ErrTransient},
		{"connection refused", fmt.Errorf("connection refused"), ErrTransient},
		{"already exists", fmt.Errorf("session run-1 already exists"), ErrConflict},
		{"exit status", fmt.Errorf("exit status 2"), ErrBuildFailed},
		{"unclassified", fmt.Errorf("something odd"), ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, errors.Is(m.MapError(tc.err), tc.sentinel))
		})
	}

	assert.NoError(t, m.MapError(nil))
	assert.Equal(t, context.Canceled, m.MapError(context.Canceled))
}

func TestCategory(t *testing.T) {
	m := NewDefaultErrorMapper()

	assert.Equal(t, "ErrNotFound", m.Category(NotFound("instance gone")))
	assert.Equal(t, "ErrBuildFailed", m.Category(BuildFailed("tsc exploded")))
	assert.Equal(t, "Unknown", m.Category(fmt.Errorf("raw os error")))
	assert.Equal(t, "", m.Category(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("flaky network")))
	assert.False(t, IsRetryable(NotFound("gone")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}

func TestWrapAndIsCategory(t *testing.T) {
	wrapped := Wrap(NotFound("instance gone"), "shutdown")
	assert.True(t, IsCategory(wrapped, ErrNotFound))
	assert.False(t, IsCategory(wrapped, ErrTransient))
	assert.NoError(t, Wrap(nil, "noop"))
}
