package audit

import (
	"context"

	"github.com/upb/llm-governance-gateway/models"
	"go.uber.org/zap"
)

// LogWriter writes audit events to the structured log. It is used when no
// audit database is configured.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger.Named("audit")}
}

// Insert logs the event
func (w *LogWriter) Insert(_ context.Context, e *models.AuditEvent) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID.String()),
		zap.String("request_id", e.RequestID),
		zap.String("user_id", e.UserID),
		zap.String("provider", e.Provider),
		zap.String("model", e.Model),
		zap.String("stage", string(e.Stage)),
		zap.String("outcome", string(e.Outcome)),
		zap.Int64("duration_ms", e.DurationMs),
		zap.Float64("cost", e.Cost),
	}
	if e.TraceID != "" {
		fields = append(fields, zap.String("trace_id", e.TraceID))
	}
	if e.ProjectID != nil {
		fields = append(fields, zap.String("project_id", *e.ProjectID))
	}
	if e.ReasonCode != "" {
		fields = append(fields, zap.String("reason_code", e.ReasonCode))
	}
	if len(e.Payload) > 0 {
		fields = append(fields, zap.ByteString("payload", e.Payload))
	}

	w.logger.Info("audit event", fields...)
	return nil
}
