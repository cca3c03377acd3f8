package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mhadocs/docsync/internal/remote"
)

func fastPolicy(maxAttempts uint) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), "upload", func(_ context.Context) (string, error) {
		calls++
		return "file-123", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "file-123", result)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	result, err := Do(context.Background(), fastPolicy(5), "upload", func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &remote.TransientError{Op: "upload", StatusCode: 429, Err: errors.New("slow down")}
		}
		return "file-123", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "file-123", result)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), "upload", func(_ context.Context) (string, error) {
		calls++
		return "", &remote.PermanentError{Op: "upload", StatusCode: 400, Err: errors.New("bad payload")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, remote.IsPermanent(err))
}

func TestDo_ExhaustionReturnsLastTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), "delete", func(_ context.Context) (bool, error) {
		calls++
		return false, &remote.TransientError{Op: "delete", StatusCode: 503, Err: errors.New("unavailable")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, remote.IsTransient(err))
}

func TestDo_PermanentFailureLogsSingleRecord(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	policy := fastPolicy(5).WithLogger(zap.New(core))

	_, err := Do(context.Background(), policy, "upload", func(_ context.Context) (string, error) {
		return "", &remote.PermanentError{Op: "upload", StatusCode: 401, Err: errors.New("bad key")}
	})
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("retry.permanent").Len())
	assert.Equal(t, 0, logs.FilterMessage("retry.exhausted").Len())
}

func TestDo_ExhaustionLogsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	policy := fastPolicy(2).WithLogger(zap.New(core))

	_, err := Do(context.Background(), policy, "upload", func(_ context.Context) (string, error) {
		return "", &remote.TransientError{Op: "upload", StatusCode: 503, Err: errors.New("unavailable")}
	})
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("retry.exhausted").Len())
}

func TestDo_UnclassifiedErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), "upload", func(_ context.Context) (string, error) {
		calls++
		return "", errors.New("plain failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancellationStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Do(ctx, fastPolicy(50), "upload", func(_ context.Context) (string, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return "", &remote.TransientError{Op: "upload", Err: errors.New("flaky")}
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 3)
}

func TestDo_AttemptTimeoutBoundsEachCall(t *testing.T) {
	t.Parallel()

	policy := fastPolicy(2)
	policy.AttemptTimeout = 10 * time.Millisecond

	_, err := Do(context.Background(), policy, "upload", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", &remote.TransientError{Op: "upload", Err: ctx.Err()}
	})
	require.Error(t, err)
	assert.True(t, remote.IsTransient(err))
}
