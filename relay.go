package rtsp

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pion/rtp"
)

// counters are written by the session loop and read by Session.Stats.
type counters struct {
	units     atomic.Uint64
	bytes     atomic.Uint64
	lost      atomic.Uint64
	truncated atomic.Uint64
}

// SubstreamStats is a snapshot of the reception counters of one substream.
type SubstreamStats struct {
	Index     int
	Media     string
	Codec     string
	Units     uint64
	Bytes     uint64
	Lost      uint64
	Truncated uint64
}

// unitDelivered completes a ReadUnit request of the relay.
type unitDelivered struct {
	relay     *relay
	n         int
	truncated int
	err       error
}

// relay forwards the units of one substream to the handler and tracks
// RTP sequence gaps.
type relay struct {
	index    int
	streamID string
	source   Source
	buf      []byte
	lastSeq  uint16

	log      *slog.Logger
	counters *counters
	onUnit   func(payload []byte, index int)
	onLoss   func(index, lost int)
	post     func(ev any)

	want   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func newRelay(sub *Substream, streamID string, bufferSize int, c *counters, n *negotiator) *relay {
	ctx, cancel := context.WithCancel(context.Background())

	r := &relay{
		index:    sub.Index,
		streamID: streamID,
		source:   sub.source,
		buf:      make([]byte, bufferSize),
		log:      n.log.With("substream", sub.Index, "stream", streamID),
		counters: c,
		onUnit:   n.handler.OnDataUnit,
		post:     n.sched.Post,
		want:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	if lh, ok := n.handler.(LossHandler); ok {
		r.onLoss = lh.OnLoss
	}

	return r
}

// startPlaying requests the first unit. Delivery continues until the source
// is closed or the relay is closed.
func (r *relay) startPlaying() {
	go r.pump(r.source, r.buf)
	r.request()
}

func (r *relay) request() {
	select {
	case r.want <- struct{}{}:
	default:
	}
}

// pump keeps at most one ReadUnit outstanding. The buffer is not touched
// again until the loop has handled the delivery and requested the next unit.
func (r *relay) pump(source Source, buf []byte) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.want:
		}

		n, truncated, err := source.ReadUnit(r.ctx, buf)
		if r.ctx.Err() != nil {
			return
		}

		r.post(unitDelivered{
			relay:     r,
			n:         n,
			truncated: truncated,
			err:       err,
		})

		if err != nil {
			return
		}
	}
}

// afterGettingUnit runs on the session loop.
func (r *relay) afterGettingUnit(n, truncated int) {
	payload := r.buf[:n]

	r.counters.units.Add(1)
	r.counters.bytes.Add(uint64(n))

	if truncated > 0 {
		r.counters.truncated.Add(1)
		r.log.Debug("unit truncated", "size", n, "truncated", truncated)
	}

	r.onUnit(payload, r.index)
	r.track(payload)

	r.request()
}

// track reports a loss when the sequence number jumps forward by more than one.
// The first packet of the substream never counts as a loss.
func (r *relay) track(payload []byte) (lost int) {
	var header rtp.Header
	if _, err := header.Unmarshal(payload); err != nil {
		return 0
	}

	seq := header.SequenceNumber

	if r.lastSeq != 0 {
		if gap := seq - r.lastSeq; gap > 1 {
			lost = int(gap - 1)

			r.counters.lost.Add(uint64(lost))
			r.log.Warn("packets lost", "lost", lost, "last", r.lastSeq, "seq", seq)

			if r.onLoss != nil {
				r.onLoss(r.index, lost)
			}
		}
	}

	r.lastSeq = seq

	return lost
}

func (r *relay) close() {
	r.cancel()
	r.buf = nil
}
