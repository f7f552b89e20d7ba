// Package audit records who changed what. Events go to the platform log
// gateway when one is configured and to the audit_events table otherwise.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"stratflow/internal/models"
)

type Event struct {
	Action  string
	Level   string
	Actor   string
	Details map[string]any
}

type Sink interface {
	Record(ctx context.Context, ev Event) error
}

type EventStore interface {
	InsertAuditEvent(ctx context.Context, item *models.AuditEvent) error
}

// StoreSink writes events to the audit_events table.
type StoreSink struct {
	Store EventStore
}

func (s *StoreSink) Record(ctx context.Context, ev Event) error {
	if s == nil || s.Store == nil {
		return nil
	}
	raw, err := json.Marshal(ev.Details)
	if err != nil {
		return err
	}
	return s.Store.InsertAuditEvent(ctx, &models.AuditEvent{
		Action:  ev.Action,
		Level:   ev.Level,
		Actor:   ev.Actor,
		Details: datatypes.JSON(raw),
	})
}

// Multi fans out to every sink and returns the first error.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type ctxKey int

const sinkCtxKey ctxKey = 1

func WithSink(ctx context.Context, s Sink) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sinkCtxKey, s)
}

func SinkFromContext(ctx context.Context) Sink {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(sinkCtxKey).(Sink)
	return s
}

// RecordBestEffort writes ev to the sink carried by ctx, if any. Failures are
// logged at debug and otherwise dropped.
func RecordBestEffort(ctx context.Context, logger *zap.Logger, ev Event) {
	s := SinkFromContext(ctx)
	if s == nil {
		return
	}
	ctx2, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.Record(ctx2, ev); err != nil && logger != nil {
		logger.Debug("audit record failed", zap.String("action", ev.Action), zap.Error(err))
	}
}

func LevelFromStatus(status int) string {
	if status >= 500 {
		return "error"
	}
	if status >= 400 {
		return "warn"
	}
	return "info"
}
