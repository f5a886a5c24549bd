package observability

import (
	"context"
	"fmt"
)

// Redactor scrubs secrets from a string.
type Redactor interface {
	Redact(text string) string
}

// RedactingObserver rewrites string and error attributes through a Redactor
// before forwarding events, so secrets never reach log output.
type RedactingObserver struct {
	next     Observer
	redactor Redactor
}

// NewRedactingObserver wraps next.
func NewRedactingObserver(next Observer, redactor Redactor) *RedactingObserver {
	return &RedactingObserver{next: next, redactor: redactor}
}

func (o *RedactingObserver) OnEvent(ctx context.Context, event Event) {
	if len(event.Data) > 0 {
		data := make(map[string]any, len(event.Data))
		for k, v := range event.Data {
			switch val := v.(type) {
			case string:
				data[k] = o.redactor.Redact(val)
			case error:
				data[k] = o.redactor.Redact(val.Error())
			case fmt.Stringer:
				data[k] = o.redactor.Redact(val.String())
			default:
				data[k] = v
			}
		}
		event.Data = data
	}
	o.next.OnEvent(ctx, event)
}
