package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-governance-gateway/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockWriter is a mock implementation of Writer
type MockWriter struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.AuditEvent
}

func (m *MockWriter) Insert(ctx context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, event)
	m.inserted = append(m.inserted, event)
	return args.Error(0)
}

func (m *MockWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

// blockingWriter holds every write until release is closed
type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) Insert(ctx context.Context, _ *models.AuditEvent) error {
	<-w.release
	return nil
}

func newEvent(id string) *models.AuditEvent {
	return models.NewAuditEvent(id, models.StageComplete, models.OutcomeSuccess)
}

func TestService_StartStop(t *testing.T) {
	writer := new(MockWriter)
	svc := NewService(writer, zap.NewNop(), DefaultConfig())

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())

	stats := svc.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 10000, stats.BufferSize)
	assert.Equal(t, 5, stats.WorkerCount)

	require.NoError(t, svc.Stop(time.Second))
	assert.Error(t, svc.Stop(time.Second))
	assert.False(t, svc.GetStats().Started)
}

func TestService_DeliversAllQueuedEventsOnStop(t *testing.T) {
	writer := new(MockWriter)
	writer.On("Insert", mock.Anything, mock.Anything).Return(nil)

	svc := NewService(writer, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, svc.Start())

	for i := 0; i < 50; i++ {
		svc.Log(newEvent("req"))
	}
	require.NoError(t, svc.Stop(5*time.Second))

	assert.Equal(t, 50, writer.count())
	assert.Equal(t, uint64(50), svc.GetStats().Written)
}

func TestService_WriteFailuresCounted(t *testing.T) {
	writer := new(MockWriter)
	writer.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	svc := NewService(writer, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, svc.Start())
	svc.Log(newEvent("req-1"))
	require.NoError(t, svc.Stop(time.Second))

	stats := svc.GetStats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, stats.Written)
}

func TestService_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	writer := &blockingWriter{release: make(chan struct{})}

	svc := NewService(writer, zap.New(core), Config{BufferSize: 2, WorkerCount: 1})
	require.NoError(t, svc.Start())

	// one event is held by the worker, two fill the buffer
	svc.Log(newEvent("a"))
	assert.Eventually(t, func() bool { return svc.GetStats().PendingEvents == 0 }, time.Second, time.Millisecond)
	svc.Log(newEvent("b"))
	svc.Log(newEvent("c"))

	start := time.Now()
	svc.Log(newEvent("d"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.Equal(t, uint64(1), svc.GetStats().Dropped)
	assert.Equal(t, 1, logs.FilterMessage("audit event channel full, dropping event").Len())

	close(writer.release)
	require.NoError(t, svc.Stop(time.Second))
}

func TestService_LogBeforeStartAndAfterStop(t *testing.T) {
	writer := new(MockWriter)
	svc := NewService(writer, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})

	svc.Log(newEvent("early"))
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Stop(time.Second))
	assert.NotPanics(t, func() { svc.Log(newEvent("late")) })

	assert.Equal(t, uint64(2), svc.GetStats().Dropped)
	writer.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestService_StopTimeout(t *testing.T) {
	writer := &blockingWriter{release: make(chan struct{})}
	defer close(writer.release)

	svc := NewService(writer, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, svc.Start())
	svc.Log(newEvent("stuck"))

	err := svc.Stop(20 * time.Millisecond)
	assert.ErrorContains(t, err, "timeout")
}

func TestLogWriter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := NewLogWriter(zap.New(core))

	project := "proj-1"
	e := newEvent("req-1").WithPayload(map[string]string{"k": "v"})
	e.ProjectID = &project
	e.ReasonCode = "BUDGET_EXCEEDED"

	require.NoError(t, w.Insert(context.Background(), e))
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "proj-1", fields["project_id"])
	assert.Equal(t, "BUDGET_EXCEEDED", fields["reason_code"])
	assert.Equal(t, "audit", logs.All()[0].LoggerName)
}
