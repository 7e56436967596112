package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote failed")

func fail(ctx context.Context) (int, error)    { return 0, errRemote }
func succeed(ctx context.Context) (int, error) { return 42, nil }

func newBreaker(threshold int) (*Breaker, *clock.Mock) {
	clk := clock.NewMock()
	cfg := DefaultConfig()
	cfg.FailureThreshold = threshold
	cfg.Timeout = 10 * time.Second
	return NewWithClock(cfg, clk), clk
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := Execute(ctx, b, fail)
		assert.ErrorIs(t, err, errRemote)
	}
	assert.Equal(t, StateOpen, b.State())

	calls := 0
	_, err := Execute(ctx, b, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newBreaker(2)
	ctx := context.Background()

	Execute(ctx, b, fail)
	v, err := Execute(ctx, b, succeed)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	Execute(ctx, b, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	b, clk := newBreaker(1)
	ctx := context.Background()

	Execute(ctx, b, fail)
	require.Equal(t, StateOpen, b.State())

	clk.Add(10 * time.Second)
	_, err := Execute(ctx, b, succeed)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newBreaker(1)
	ctx := context.Background()

	Execute(ctx, b, fail)
	clk.Add(10 * time.Second)
	_, err := Execute(ctx, b, fail)
	assert.ErrorIs(t, err, errRemote)
	assert.Equal(t, StateOpen, b.State())

	_, err = Execute(ctx, b, succeed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_HalfOpenLimitsTrials(t *testing.T) {
	b, clk := newBreaker(1)
	ctx := context.Background()

	Execute(ctx, b, fail)
	clk.Add(10 * time.Second)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		Execute(ctx, b, func(ctx context.Context) (int, error) {
			close(inTrial)
			<-release
			return 1, nil
		})
	}()

	<-inTrial
	_, err := Execute(ctx, b, succeed)
	assert.ErrorIs(t, err, ErrOpen)

	close(release)
	<-done
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b, _ := newBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, b, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OnStateChangeAndReset(t *testing.T) {
	b, _ := newBreaker(1)
	var transitions []string
	b.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	Execute(context.Background(), b, fail)
	b.Reset()
	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
