package metrics

import (
	"context"
	"io"
	"log/slog"
)

// JSONLObserver writes one JSON object per event. Tags become top-level string fields,
// so call_id and phase can be grepped directly out of the file.
type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Event time is carried explicitly; drop the handler's own timestamp and message.
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.MessageKey) {
				return slog.Attr{}
			}
			return a
		},
	}))}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := make([]slog.Attr, 0, 3+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs,
		slog.String("event", ev.Name),
		slog.Time("at", ev.Time),
	)
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	if len(ev.Fields) > 0 {
		fields := make([]any, 0, len(ev.Fields)*2)
		for k, v := range ev.Fields {
			fields = append(fields, k, v)
		}
		attrs = append(attrs, slog.Group("fields", fields...))
	}
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, "", attrs...)
}
