package observability

import "context"

// MultiObserver fans out events to multiple observers.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates a MultiObserver over observers. Nil and no-op
// observers are skipped and nested MultiObservers are flattened, so each
// event reaches every sink exactly once per registration.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, obs := range observers {
		m.add(obs)
	}
	return m
}

func (m *MultiObserver) add(obs Observer) {
	switch o := obs.(type) {
	case nil, NoOpObserver:
	case *MultiObserver:
		if o != nil {
			for _, inner := range o.observers {
				m.add(inner)
			}
		}
	default:
		m.observers = append(m.observers, obs)
	}
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		obs.OnEvent(ctx, event)
	}
}
