package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New[int](Config{Name: "test", ConsecutiveFailures: 2, Timeout: time.Minute}, nil)
	boom := errors.New("boom")

	calls := 0
	fail := func() (int, error) {
		calls++
		return 0, boom
	}

	_, err := b.Execute(fail)
	assert.ErrorIs(t, err, boom)
	_, err = b.Execute(fail)
	assert.ErrorIs(t, err, boom)

	_, err = b.Execute(fail)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2, calls, "open breaker must not call through")
	assert.Equal(t, "open", b.State())
}

func TestBreaker_PassesResults(t *testing.T) {
	b := New[string](DefaultConfig("ok"), nil)

	v, err := b.Execute(func() (string, error) { return "fine", nil })
	require.NoError(t, err)
	assert.Equal(t, "fine", v)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b := New[int](Config{Name: "recover", ConsecutiveFailures: 1, Timeout: 20 * time.Millisecond, MaxRequests: 1}, nil)

	_, _ = b.Execute(func() (int, error) { return 0, errors.New("down") })
	_, err := b.Execute(func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrOpen)

	require.Eventually(t, func() bool {
		v, err := b.Execute(func() (int, error) { return 7, nil })
		return err == nil && v == 7
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_IgnoresAbandonedCalls(t *testing.T) {
	b := New[int](Config{Name: "abandoned", ConsecutiveFailures: 1, Timeout: time.Minute}, nil)
	slow := errors.New("slow upstream")

	_, err := b.Execute(func() (int, error) { return 0, context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)

	_, err = b.Execute(func() (int, error) { return 0, Excluded(slow) })
	assert.Equal(t, slow, err, "excluded errors come back unwrapped")
	assert.Equal(t, "closed", b.State())

	_, err = b.Execute(func() (int, error) { return 0, slow })
	assert.ErrorIs(t, err, slow)
	assert.Equal(t, "open", b.State())
}
