package rtsp

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtcp"
)

// Source delivers received units of one substream.
type Source interface {
	// ReadUnit blocks until the next unit is copied into buf.
	// truncated is the number of bytes that did not fit.
	// Returns io.EOF once the source is closed and drained.
	// Only one call may be outstanding at a time.
	ReadUnit(ctx context.Context, buf []byte) (n, truncated int, err error)
	// SetByeHandler registers fn to be called when the server signals the end
	// of the substream with RTCP BYE. nil removes the handler.
	SetByeHandler(fn func())
	Close()
}

const sourceQueueSize = 256

// source is fed by a transport goroutine and drained by a relay.
type source struct {
	index int
	log   *slog.Logger

	units     chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	onBye   func()
	onClose func()

	dropped atomic.Uint64
}

func newSource(index int, log *slog.Logger) *source {
	return &source{
		index: index,
		log:   log,
		units: make(chan []byte, sourceQueueSize),
		done:  make(chan struct{}),
	}
}

func (s *source) pushRTP(packet []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	unit := make([]byte, len(packet))
	copy(unit, packet)

	select {
	case s.units <- unit:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.log.Warn("receive queue overflow", "substream", s.index, "dropped", s.dropped.Load())
		}
	}
}

func (s *source) pushRTCP(packet []byte) {
	packets, err := rtcp.Unmarshal(packet)
	if err != nil {
		s.log.Debug("invalid rtcp packet", "substream", s.index, "err", err)
		return
	}

	for _, p := range packets {
		if _, ok := p.(*rtcp.Goodbye); ok {
			s.bye()
			return
		}
	}
}

func (s *source) bye() {
	s.mu.Lock()
	fn := s.onBye
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *source) SetByeHandler(fn func()) {
	s.mu.Lock()
	s.onBye = fn
	s.mu.Unlock()
}

func copyUnit(buf, unit []byte) (int, int, error) {
	n := copy(buf, unit)
	return n, len(unit) - n, nil
}

func (s *source) ReadUnit(ctx context.Context, buf []byte) (int, int, error) {
	// queued units are delivered before the closure
	select {
	case unit := <-s.units:
		return copyUnit(buf, unit)
	default:
	}

	select {
	case unit := <-s.units:
		return copyUnit(buf, unit)
	case <-s.done:
		return 0, 0, io.EOF
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// setCloseHandler registers fn to release transport resources of the source.
func (s *source) setCloseHandler(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *source) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		fn := s.onClose
		s.onClose = nil
		s.mu.Unlock()

		if fn != nil {
			fn()
		}
	})
}
