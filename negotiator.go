package rtsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the RTSP engine used by a session. Client implements it.
//
// Describe, Setup and Play block until the response is received; they are
// called outside of the session loop. Teardown and KeepAlive do not wait for
// the response.
type Conn interface {
	Describe(ctx context.Context) (body []byte, base *url.URL, err error)
	// Initiate resolves transport parameters of the substream and returns
	// the source its units will be delivered to.
	Initiate(sub *Substream) (Source, error)
	Setup(ctx context.Context, sub *Substream) error
	Play(ctx context.Context, desc *SessionDescription) error
	Teardown(desc *SessionDescription) error
	KeepAlive(desc *SessionDescription) error
	// SessionTimeout returns the session timeout announced by the server.
	SessionTimeout() time.Duration
	Close() error
}

type describeDone struct {
	body []byte
	base *url.URL
	err  error
}

type setupDone struct {
	sub *Substream
	err error
}

type playDone struct {
	err error
}

// substreamEnded is posted by the BYE handler of the substream source.
type substreamEnded struct {
	relay *relay
}

type expiryFired struct{}

type keepAliveFired struct{}

type stopRequested struct{}

// negotiator drives DESCRIBE, SETUP for every substream and PLAY, then watches
// the substreams until the session ends. Everything except the fields under mu
// and the state is owned by the session loop.
type negotiator struct {
	conn    Conn
	sched   *scheduler
	config  *Config
	log     *slog.Logger
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32
	st    *sessionState

	// read by Session accessors
	mu          sync.Mutex
	description string
	stats       []*substreamCounters
}

type substreamCounters struct {
	index int
	media string
	codec string
	counters
}

func newNegotiator(conn Conn, sched *scheduler, config *Config, log *slog.Logger) *negotiator {
	ctx, cancel := context.WithCancel(context.Background())

	return &negotiator{
		conn:    conn,
		sched:   sched,
		config:  config,
		log:     log,
		handler: HandlerFuncs{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (n *negotiator) State() State {
	return State(n.state.Load())
}

func (n *negotiator) setState(state State) {
	prev := State(n.state.Swap(int32(state)))
	if prev != state {
		n.log.Debug("session state", "from", prev, "to", state)
	}
}

func (n *negotiator) dispatch(ev any) {
	switch ev := ev.(type) {
	case describeDone:
		n.afterDescribe(ev)
	case setupDone:
		n.afterSetup(ev)
	case playDone:
		n.afterPlay(ev)
	case unitDelivered:
		n.afterUnit(ev)
	case substreamEnded:
		n.onSubstreamEnded(ev)
	case expiryFired:
		n.onExpiry()
	case keepAliveFired:
		n.onKeepAlive()
	case stopRequested:
		n.log.Info("stop requested")
		n.teardown(nil)
	default:
		n.log.Warn("unexpected event", "event", fmt.Sprintf("%T", ev))
	}
}

// issue runs the blocking engine call in a goroutine and posts the result
// back to the session loop.
func (n *negotiator) issue(fn func(ctx context.Context) any) {
	go func() {
		n.sched.Post(fn(n.ctx))
	}()
}

// ignored logs a completion that arrived in a state that does not expect it.
func (n *negotiator) ignored(ev string) {
	n.log.Debug("completion ignored", "event", ev, "state", n.State())
}

// start issues DESCRIBE. Called once on the loop goroutine before Run.
func (n *negotiator) start() {
	if n.State() != StateIdle {
		return
	}

	n.setState(StateAwaitingDescribe)

	conn := n.conn
	n.issue(func(ctx context.Context) any {
		body, base, err := conn.Describe(ctx)
		return describeDone{body: body, base: base, err: err}
	})
}

func (n *negotiator) afterDescribe(ev describeDone) {
	if n.State() != StateAwaitingDescribe {
		n.ignored("describe")
		return
	}

	if ev.err != nil {
		n.teardown(fmt.Errorf("describe: %w", ev.err))
		return
	}

	if limit := n.config.MaxDescriptionLength; limit > 0 && len(ev.body) > limit {
		n.teardown(fmt.Errorf("%w: %d bytes", ErrDescriptionTooLong, len(ev.body)))
		return
	}

	text := string(ev.body)

	n.mu.Lock()
	n.description = text
	n.mu.Unlock()

	n.handler.OnSessionDescription(text)

	desc, err := ParseSessionDescription(ev.base, ev.body)
	if err != nil {
		n.teardown(fmt.Errorf("parse session description: %w", err))
		return
	}

	if len(desc.Substreams) == 0 {
		n.teardown(ErrNoSubstreams)
		return
	}

	stats := make([]*substreamCounters, len(desc.Substreams))
	for i, sub := range desc.Substreams {
		stats[i] = &substreamCounters{
			index: sub.Index,
			media: sub.Media,
			codec: sub.Codec,
		}
	}

	n.mu.Lock()
	n.stats = stats
	n.mu.Unlock()

	n.log.Info("session described", "substreams", len(desc.Substreams), "duration", desc.Duration())

	n.st = newSessionState(desc)
	n.setState(StateSettingUpSubstreams)
	n.setupNextSubstream()
}

// setupNextSubstream issues SETUP for the next substream that could be
// initiated, or PLAY when none is left.
func (n *negotiator) setupNextSubstream() {
	for {
		sub := n.st.next()
		if sub == nil {
			n.play()
			return
		}

		src, err := n.conn.Initiate(sub)
		if err != nil {
			n.log.Warn("failed to initiate substream", "substream", sub.Index, "media", sub, "err", err)
			continue
		}

		sub.source = src

		if n.config.Transport == TransportUDP {
			n.log.Info("initiated substream", "substream", sub.Index, "media", sub, "ports", sub.clientPorts())
		} else {
			n.log.Info("initiated substream", "substream", sub.Index, "media", sub, "channel", sub.Channel)
		}

		conn := n.conn
		n.issue(func(ctx context.Context) any {
			return setupDone{sub: sub, err: conn.Setup(ctx, sub)}
		})

		return
	}
}

func (n *negotiator) afterSetup(ev setupDone) {
	if n.State() != StateSettingUpSubstreams || ev.sub != n.st.current {
		n.ignored("setup")
		return
	}

	sub := ev.sub

	if ev.err != nil {
		n.log.Warn("failed to setup substream", "substream", sub.Index, "media", sub, "err", ev.err)

		if sub.source != nil {
			sub.source.Close()
			sub.source = nil
		}
	} else {
		r := newRelay(sub, sub.String(), n.config.ReceiveBufferSize, &n.stats[sub.Index].counters, n)
		sub.relay = r

		sub.source.SetByeHandler(func() {
			n.sched.Post(substreamEnded{relay: r})
		})

		r.startPlaying()
		n.st.ready++

		if sub.Params != nil {
			n.log.Info("substream set up", "substream", sub.Index, "media", sub, "params", sub.Params)
		} else {
			n.log.Info("substream set up", "substream", sub.Index, "media", sub)
		}
	}

	n.setupNextSubstream()
}

func (n *negotiator) play() {
	n.st.duration = n.st.desc.Duration()
	n.setState(StateAwaitingPlay)

	conn := n.conn
	desc := n.st.desc

	n.issue(func(ctx context.Context) any {
		return playDone{err: conn.Play(ctx, desc)}
	})
}

func (n *negotiator) afterPlay(ev playDone) {
	if n.State() != StateAwaitingPlay {
		n.ignored("play")
		return
	}

	if ev.err != nil {
		n.teardown(fmt.Errorf("play: %w", ev.err))
		return
	}

	if !n.st.active() {
		if n.st.ready == 0 {
			n.teardown(ErrNoSubstreams)
		} else {
			n.log.Info("all substreams ended")
			n.teardown(nil)
		}
		return
	}

	if n.st.duration > 0 {
		delay := n.st.expiryDelay(n.config.ExpirySlack)
		n.st.expiry = n.sched.ScheduleDelayedTask(delay, expiryFired{})
		n.log.Info("session expiry scheduled", "duration", n.st.duration, "delay", delay)
	}

	n.scheduleKeepAlive()
	n.setState(StatePlaying)
	n.log.Info("playing")
}

func (n *negotiator) keepAliveInterval() time.Duration {
	switch d := n.config.KeepAliveInterval; {
	case d < 0:
		return 0
	case d > 0:
		return d
	default:
		return n.conn.SessionTimeout() / 2
	}
}

func (n *negotiator) scheduleKeepAlive() {
	if d := n.keepAliveInterval(); d > 0 {
		n.st.keepAlive = n.sched.ScheduleDelayedTask(d, keepAliveFired{})
	}
}

func (n *negotiator) onKeepAlive() {
	if n.State() != StatePlaying {
		return
	}

	n.st.keepAlive = 0

	if err := n.conn.KeepAlive(n.st.desc); err != nil {
		n.log.Warn("keep-alive failed", "err", err)
	}

	n.scheduleKeepAlive()
}

func (n *negotiator) substream(r *relay) *Substream {
	if n.st == nil || r.index < 0 || r.index >= len(n.st.substreams) {
		return nil
	}

	sub := n.st.substreams[r.index]
	if sub.relay != r {
		return nil
	}

	return sub
}

func (n *negotiator) afterUnit(ev unitDelivered) {
	sub := n.substream(ev.relay)
	if sub == nil {
		// relay was detached while the unit was in flight
		return
	}

	if ev.err != nil {
		if errors.Is(ev.err, io.EOF) {
			n.log.Info("substream closed", "substream", sub.Index, "media", sub)
		} else {
			n.log.Warn("substream failed", "substream", sub.Index, "media", sub, "err", ev.err)
		}

		n.substreamEnded(sub)
		return
	}

	ev.relay.afterGettingUnit(ev.n, ev.truncated)
}

func (n *negotiator) onSubstreamEnded(ev substreamEnded) {
	sub := n.substream(ev.relay)
	if sub == nil {
		return
	}

	n.log.Info("received BYE", "substream", sub.Index, "media", sub)
	n.substreamEnded(sub)
}

// substreamEnded detaches the substream and tears the session down once no
// substream is left.
func (n *negotiator) substreamEnded(sub *Substream) {
	n.detach(sub)

	if n.st.active() {
		return
	}

	// during negotiation the PLAY completion makes the decision
	if n.State() == StatePlaying {
		n.log.Info("all substreams ended")
		n.teardown(nil)
	}
}

func (n *negotiator) detach(sub *Substream) {
	if sub.relay != nil {
		sub.relay.close()
		sub.relay = nil
	}

	if sub.source != nil {
		sub.source.SetByeHandler(nil)
		sub.source.Close()
		sub.source = nil
	}
}

func (n *negotiator) onExpiry() {
	if n.st == nil {
		return
	}

	// the task is already removed from the scheduler
	n.st.expiry = 0

	n.log.Info("session expired", "duration", n.st.duration)
	n.teardown(nil)
}

// teardown releases every session resource and stops the loop.
// A nil cause is a normal end. Calls after the first one do nothing.
func (n *negotiator) teardown(cause error) {
	switch n.State() {
	case StateTeardown, StateClosed:
		return
	}

	n.setState(StateTeardown)

	// breaks requests in flight; their completions are ignored
	n.cancel()

	if st := n.st; st != nil {
		active := false

		for _, sub := range st.substreams {
			if sub.relay != nil {
				active = true
				n.detach(sub)
			}
		}

		if active {
			if err := n.conn.Teardown(st.desc); err != nil {
				n.log.Debug("teardown request failed", "err", err)
			}
		}

		st.release(n.sched)
		n.st = nil
	}

	if n.conn != nil {
		if err := n.conn.Close(); err != nil {
			n.log.Debug("failed to close connection", "err", err)
		}
		n.conn = nil
	}

	n.setState(StateClosed)

	if cause != nil {
		n.log.Error("session failed", "err", cause)

		if fh, ok := n.handler.(FailureHandler); ok {
			fh.OnSessionFailed(cause)
		}
	} else {
		n.log.Info("session closed")
	}

	n.sched.Stop()
}
