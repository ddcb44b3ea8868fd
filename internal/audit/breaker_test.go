package audit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

type flakySink struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	block    bool
	deadline bool
}

func (f *flakySink) Record(ctx context.Context, _ *domain.AuditRecord) error {
	f.mu.Lock()
	f.calls++
	fail, block := f.fail, f.block
	f.mu.Unlock()

	if block {
		_, f.deadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("database unavailable")
	}
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBreakerRecorder_OpensAfterConsecutiveFailures(t *testing.T) {
	sink := &flakySink{fail: true}
	recorder := NewBreakerRecorder(sink, domain.AuditConfig{
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	}, quietLogger())
	ctx := context.Background()

	assert.Error(t, recorder.Record(ctx, &domain.AuditRecord{}))
	assert.Error(t, recorder.Record(ctx, &domain.AuditRecord{}))
	assert.Equal(t, "open", recorder.State())

	err := recorder.Record(ctx, &domain.AuditRecord{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, sink.calls, "open breaker must not reach the sink")
}

func TestBreakerRecorder_RecoversAfterTimeout(t *testing.T) {
	sink := &flakySink{fail: true}
	recorder := NewBreakerRecorder(sink, domain.AuditConfig{
		BreakerFailures: 1,
		BreakerTimeout:  20 * time.Millisecond,
	}, quietLogger())
	ctx := context.Background()

	require.Error(t, recorder.Record(ctx, &domain.AuditRecord{}))
	require.Equal(t, "open", recorder.State())

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, recorder.Record(ctx, &domain.AuditRecord{}))
	assert.Equal(t, "closed", recorder.State())
}

func TestBreakerRecorder_WriteTimeout(t *testing.T) {
	sink := &flakySink{block: true}
	recorder := NewBreakerRecorder(sink, domain.AuditConfig{
		WriteTimeout: 10 * time.Millisecond,
	}, quietLogger())

	start := time.Now()
	err := recorder.Record(context.Background(), &domain.AuditRecord{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, sink.deadline)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, domain.AuditConfig{Driver: "none"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, NopStore{}, store)

	store, err = Open(ctx, domain.AuditConfig{Driver: "SQLite", SQLitePath: t.TempDir() + "/audit.db"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(ctx, domain.AuditConfig{Driver: "mongo"}, quietLogger())
	assert.ErrorContains(t, err, "unknown audit driver")
}
