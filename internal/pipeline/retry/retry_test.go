package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"explicit transient", Transient(errors.New("x")), true},
		{"explicit terminal", Terminal(errors.New("x")), false},
		{"wrapped explicit transient", fmt.Errorf("outer: %w", Transient(errors.New("x"))), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"http 503", errors.New("slack returned http status 503"), true},
		{"http 429", errors.New("webhook returned http status 429"), true},
		{"http 400", errors.New("webhook returned http status 400"), false},
		{"http 404", errors.New("slack returned http status 404"), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"rate limited", errors.New("rate limit exceeded"), true},
		{"unknown defaults terminal", errors.New("something odd"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, Classify(tc.err).IsTransient())
		})
	}
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), 5, time.Millisecond, 4*time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnTerminal(t *testing.T) {
	t.Parallel()

	attempts := 0
	terminal := errors.New("invalid payload")
	err := Do(context.Background(), 5, time.Millisecond, 4*time.Millisecond, func() error {
		attempts++
		return terminal
	})
	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), 3, time.Millisecond, 4*time.Millisecond, func() error {
		attempts++
		return Transient(errors.New("still down"))
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, 10, 50*time.Millisecond, time.Second, func() error {
		attempts++
		cancel()
		return Transient(errors.New("down"))
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoMinimumOneAttempt(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), 0, time.Millisecond, time.Millisecond, func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
