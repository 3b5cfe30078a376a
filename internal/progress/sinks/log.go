package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/invite-crawler/internal/progress"
)

// LogSink emits structured logs for progress streams. Invite and cycle events
// are logged at info, per-page and per-link noise at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("cycle_id", uuid.UUID(evt.CycleID).String()),
			zap.String("stage", string(evt.Stage)),
		}
		level := zapcore.DebugLevel
		switch evt.Stage {
		case progress.StageCycleStart:
			level = zapcore.InfoLevel
		case progress.StageCycleDone:
			level = zapcore.InfoLevel
			fields = append(fields, zap.Int64("entries", evt.Entries), zap.Duration("dur", evt.Dur))
		case progress.StageCycleError:
			level = zapcore.ErrorLevel
			fields = append(fields, zap.String("note", evt.Note), zap.Duration("dur", evt.Dur))
		case progress.StagePageDone:
			fields = append(fields, zap.Int("page", evt.Page), zap.Int64("links", evt.Links))
		case progress.StagePageError:
			level = zapcore.WarnLevel
			fields = append(fields, zap.Int("page", evt.Page), zap.String("note", evt.Note))
		case progress.StageInviteFound:
			level = zapcore.InfoLevel
			fields = append(fields,
				zap.String("code", evt.Code),
				zap.String("guild", evt.Guild),
				zap.String("url", evt.URL),
			)
		case progress.StageLinkDropped:
			fields = append(fields,
				zap.String("reason", string(evt.Reason)),
				zap.String("url", evt.URL),
				zap.String("note", evt.Note),
			)
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
