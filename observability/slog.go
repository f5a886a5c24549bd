package observability

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// SlogObserver writes events to a slog.Logger. The event type becomes the
// message and the event timestamp the record time. Data keys follow source
// in sorted order, so lines of one session read the same way every time.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver that emits to the given logger.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	level := event.Level.SlogLevel()
	handler := o.logger.Handler()
	if !handler.Enabled(ctx, level) {
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	record := slog.NewRecord(ts, level, string(event.Type), 0)
	record.AddAttrs(slog.String("source", event.Source))
	for _, key := range slices.Sorted(maps.Keys(event.Data)) {
		record.AddAttrs(slogAttr(key, event.Data[key]))
	}
	_ = handler.Handle(ctx, record)
}

func slogAttr(key string, value any) slog.Attr {
	switch v := value.(type) {
	case error:
		return slog.String(key, v.Error())
	case time.Duration:
		return slog.String(key, v.String())
	default:
		return slog.Any(key, value)
	}
}
