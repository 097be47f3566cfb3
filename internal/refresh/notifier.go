package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type (
	// Event describes a finished refresh cycle.
	Event struct {
		CycleID    uuid.UUID      `json:"cycleId"`
		StoreID    string         `json:"storeId"`
		Window     string         `json:"window"`
		Mode       Mode           `json:"mode"`
		Generation int64          `json:"generation"`
		Sections   []SectionState `json:"sections"`
		Succeeded  int            `json:"succeeded"`
		Failed     int            `json:"failed"`
		StartedAt  time.Time      `json:"startedAt"`
		FinishedAt time.Time      `json:"finishedAt"`
	}

	// Notifier is told once per cycle when every launched section has settled.
	Notifier interface {
		RefreshCompleted(ctx context.Context, event Event) error
	}

	// NotifierFunc adapts a function to Notifier.
	NotifierFunc func(ctx context.Context, event Event) error

	multiNotifier []Notifier
)

// RefreshCompleted calls f.
func (f NotifierFunc) RefreshCompleted(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Notifiers fans an event out to every non-nil notifier, joining their errors.
func Notifiers(notifiers ...Notifier) Notifier {
	m := make(multiNotifier, 0, len(notifiers))

	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}

	return m
}

func (m multiNotifier) RefreshCompleted(ctx context.Context, event Event) error {
	var errs []error

	for _, n := range m {
		if err := n.RefreshCompleted(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
