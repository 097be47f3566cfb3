package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cycle is one refresh pass over a scheduler's sections.
type Cycle struct {
	ID         uuid.UUID `json:"id"`
	Generation int64     `json:"generation"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"startedAt"`

	// guarded by the owning scheduler's mutex
	pending     int
	corePending int
	succeeded   int
	failed      int

	done     chan struct{}
	coreDone chan struct{}
}

func newCycle(generation int64, mode Mode, startedAt time.Time, sections []Section) *Cycle {
	c := &Cycle{
		ID:         uuid.New(),
		Generation: generation,
		Mode:       mode,
		StartedAt:  startedAt,
		pending:    len(sections),
		done:       make(chan struct{}),
		coreDone:   make(chan struct{}),
	}

	for _, s := range sections {
		if s.Kind == KindCore {
			c.corePending++
		}
	}

	if c.corePending == 0 {
		close(c.coreDone)
	}

	if c.pending == 0 {
		close(c.done)
	}

	return c
}

// Done is closed once every launched section has settled.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the cycle completes or ctx is done.
func (c *Cycle) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle records one section outcome and reports whether the cycle just completed.
func (c *Cycle) settle(kind Kind, ok bool) bool {
	if ok {
		c.succeeded++
	} else {
		c.failed++
	}

	if kind == KindCore {
		c.corePending--
		if c.corePending == 0 {
			close(c.coreDone)
		}
	}

	c.pending--
	if c.pending == 0 {
		close(c.done)

		return true
	}

	return false
}
