package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"catalograph/internal/graph"
)

// ErrEntityPhaseIncomplete is returned when relationships referencing a kind
// are loaded before that kind's entities committed, or after they failed.
var ErrEntityPhaseIncomplete = errors.New("entity phase incomplete")

type kindState struct {
	done chan struct{}
	err  error
}

// Barrier is the one-way gate between a kind's entity phase and any
// relationship phase that references the kind.
type Barrier struct {
	mu    sync.Mutex
	kinds map[graph.Kind]*kindState
}

// NewBarrier schedules kinds. Waiting on a kind that was never scheduled
// fails instead of blocking.
func NewBarrier(kinds ...graph.Kind) *Barrier {
	b := &Barrier{kinds: make(map[graph.Kind]*kindState, len(kinds))}
	for _, k := range kinds {
		b.kinds[k] = &kindState{done: make(chan struct{})}
	}
	return b
}

// Committed returns a barrier where every kind has already committed.
func Committed(kinds ...graph.Kind) *Barrier {
	b := NewBarrier(kinds...)
	for _, k := range kinds {
		b.Commit(k)
	}
	return b
}

func (b *Barrier) state(k graph.Kind) *kindState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.kinds[k]
	if !ok {
		s = &kindState{done: make(chan struct{})}
		b.kinds[k] = s
	}
	return s
}

func (b *Barrier) Commit(k graph.Kind) {
	b.finish(k, nil)
}

func (b *Barrier) Fail(k graph.Kind, err error) {
	if err == nil {
		err = errors.New("failed")
	}
	b.finish(k, err)
}

func (b *Barrier) finish(k graph.Kind, err error) {
	s := b.state(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

func (b *Barrier) lookup(k graph.Kind) (*kindState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.kinds[k]
	return s, ok
}

// Wait blocks until every kind has committed. It fails for kinds that were
// never scheduled or whose entity phase failed.
func (b *Barrier) Wait(ctx context.Context, kinds ...graph.Kind) error {
	for _, k := range kinds {
		s, ok := b.lookup(k)
		if !ok {
			return fmt.Errorf("%w: kind %s has no entity phase", ErrEntityPhaseIncomplete, k)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
		}
		if s.err != nil {
			return fmt.Errorf("%w: kind %s: %v", ErrEntityPhaseIncomplete, k, s.err)
		}
	}
	return nil
}

// Check is the non-blocking form of Wait.
func (b *Barrier) Check(kinds ...graph.Kind) error {
	for _, k := range kinds {
		s, ok := b.lookup(k)
		if !ok {
			return fmt.Errorf("%w: kind %s has no entity phase", ErrEntityPhaseIncomplete, k)
		}
		select {
		case <-s.done:
			if s.err != nil {
				return fmt.Errorf("%w: kind %s: %v", ErrEntityPhaseIncomplete, k, s.err)
			}
		default:
			return fmt.Errorf("%w: kind %s not committed yet", ErrEntityPhaseIncomplete, k)
		}
	}
	return nil
}

// Failed reports whether the kind was scheduled and failed.
func (b *Barrier) Failed(k graph.Kind) bool {
	s, ok := b.lookup(k)
	if !ok {
		return false
	}
	select {
	case <-s.done:
		return s.err != nil
	default:
		return false
	}
}
