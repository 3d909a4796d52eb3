package research

import (
	"context"
	"sync"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
)

// Stream carries one run's events from the orchestrator to a single consumer.
// Progress events go into a bounded buffer that drops the oldest entry when
// full; the terminal event has its own slot and is never dropped. Publishing
// never blocks.
type Stream struct {
	runID string

	mu        sync.Mutex
	buf       []domain.Event
	size      int
	dropped   int
	terminal  *domain.Event
	delivered bool
	notify    chan struct{}
}

func NewStream(runID string, size int) *Stream {
	if size <= 0 {
		size = constants.APIConfig.ProgressBufferSize
	}
	return &Stream{
		runID:  runID,
		buf:    make([]domain.Event, 0, size),
		size:   size,
		notify: make(chan struct{}, 1),
	}
}

func (s *Stream) RunID() string {
	return s.runID
}

// Publish queues a progress event. Events after the terminal one are ignored.
func (s *Stream) Publish(p domain.ProgressEvent) {
	s.mu.Lock()
	if s.terminal != nil {
		s.mu.Unlock()
		return
	}
	if len(s.buf) >= s.size {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		s.dropped++
	}
	s.buf = append(s.buf, domain.ProgressFrame(p))
	s.mu.Unlock()
	s.wake()
}

// Finish sets the terminal event. Only the first call has any effect.
func (s *Stream) Finish(ev domain.Event) bool {
	s.mu.Lock()
	if s.terminal != nil {
		s.mu.Unlock()
		return false
	}
	s.terminal = &ev
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks for the next event. Buffered progress is delivered before the
// terminal event; after the terminal event, or when ctx ends, ok is false.
func (s *Stream) Next(ctx context.Context) (domain.Event, bool) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			ev := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return ev, true
		}
		if s.terminal != nil {
			if s.delivered {
				s.mu.Unlock()
				return domain.Event{}, false
			}
			s.delivered = true
			ev := *s.terminal
			s.mu.Unlock()
			return ev, true
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Event{}, false
		case <-s.notify:
		}
	}
}

// Dropped reports how many progress events were discarded on overflow.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
