package rtsp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed      = errors.New("session closed")
	ErrNoSubstreams       = errors.New("no substreams")
	ErrDescriptionTooLong = errors.New("session description too long")
	ErrURLTooLong         = errors.New("url too long")
)

// Handler receives the session events. Methods are called from the session
// goroutine, one at a time. They must not call StopAndWait or Close.
type Handler interface {
	// OnSessionDescription is called once the DESCRIBE reply is received.
	OnSessionDescription(sdp string)
	// OnDataUnit is called for every received RTP packet. payload is only
	// valid until the method returns.
	OnDataUnit(payload []byte, index int)
}

// LossHandler is implemented by handlers interested in sequence gaps.
type LossHandler interface {
	OnLoss(index, lost int)
}

// FailureHandler is implemented by handlers interested in the reason of
// an abnormal session end.
type FailureHandler interface {
	OnSessionFailed(err error)
}

// HandlerFuncs adapts functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	SessionDescription func(sdp string)
	DataUnit           func(payload []byte, index int)
	Loss               func(index, lost int)
	Failed             func(err error)
}

func (h HandlerFuncs) OnSessionDescription(sdp string) {
	if h.SessionDescription != nil {
		h.SessionDescription(sdp)
	}
}

func (h HandlerFuncs) OnDataUnit(payload []byte, index int) {
	if h.DataUnit != nil {
		h.DataUnit(payload, index)
	}
}

func (h HandlerFuncs) OnLoss(index, lost int) {
	if h.Loss != nil {
		h.Loss(index, lost)
	}
}

func (h HandlerFuncs) OnSessionFailed(err error) {
	if h.Failed != nil {
		h.Failed(err)
	}
}

// Session is one live RTSP session. It owns a goroutine that negotiates the
// session and delivers received units to the Handler.
type Session struct {
	id     string
	url    *url.URL
	config Config
	log    *slog.Logger

	sched *scheduler
	neg   *negotiator

	mu      sync.Mutex
	started bool
	stopped bool

	finishOnce sync.Once
}

func parseSessionURL(rawURL string, maxLength int) (*url.URL, error) {
	if maxLength > 0 && len(rawURL) > maxLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrURLTooLong, len(rawURL), maxLength)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(u.Scheme, "rtsp") {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("no host in url")
	}

	return u, nil
}

// NewSession creates a session for the rtsp:// URL. A nil config means
// DefaultConfig, a nil logger means slog.Default.
// Credentials in the URL are used to authorize requests.
func NewSession(rawURL string, config *Config, logger *slog.Logger) (*Session, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
		cfg.applyDefaults()

		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}

	u, err := parseSessionURL(rawURL, cfg.MaxURLLength)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	log := logger.With("session", id, "url", u.Redacted())

	client := &Client{
		URL:            u,
		UserAgent:      cfg.UserAgent,
		Transport:      cfg.Transport,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         log,
	}

	return newSession(id, u, cfg, log, client), nil
}

func newSession(id string, u *url.URL, cfg Config, log *slog.Logger, conn Conn) *Session {
	s := &Session{
		id:     id,
		url:    u,
		config: cfg,
		log:    log,
		sched:  newScheduler(),
	}

	s.neg = newNegotiator(conn, s.sched, &s.config, log)

	return s
}

// Start registers the handler and starts the session goroutine.
// Calls while the session is running do nothing.
func (s *Session) Start(handler Handler) error {
	if handler == nil {
		return errors.New("nil handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.neg.State() == StateClosed {
		return ErrSessionClosed
	}

	if s.started {
		return nil
	}

	s.started = true
	s.neg.handler = handler

	go s.run()

	return nil
}

func (s *Session) run() {
	s.log.Info("session started")

	s.neg.start()
	s.sched.Run(s.neg.dispatch)
}

// StopAndWait stops the session and blocks until its goroutine exits.
// Safe to call more than once and before Start.
func (s *Session) StopAndWait() {
	s.mu.Lock()
	started := s.started
	s.stopped = true
	s.mu.Unlock()

	if !started {
		return
	}

	s.sched.Post(stopRequested{})
	s.sched.Stop()
	<-s.sched.Done()

	s.finish()
}

// finish tears the session down if the loop exited before doing it.
// Must only run while the loop is not running.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.neg.teardown(nil)
	})
}

// Close stops the session and releases the connection.
// No Handler method is called after Close returns.
func (s *Session) Close() error {
	s.StopAndWait()
	s.finish()

	return nil
}

// Done is closed when the session goroutine exits.
func (s *Session) Done() <-chan struct{} {
	return s.sched.Done()
}

// ID returns the unique session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// URL returns the session URL without the password.
func (s *Session) URL() string {
	return s.url.Redacted()
}

// SessionDescription returns the last received session description.
func (s *Session) SessionDescription() string {
	s.neg.mu.Lock()
	defer s.neg.mu.Unlock()

	return s.neg.description
}

func (s *Session) State() State {
	return s.neg.State()
}

// Stats returns reception counters for every described substream.
func (s *Session) Stats() []SubstreamStats {
	s.neg.mu.Lock()
	defer s.neg.mu.Unlock()

	stats := make([]SubstreamStats, 0, len(s.neg.stats))

	for _, c := range s.neg.stats {
		stats = append(stats, SubstreamStats{
			Index:     c.index,
			Media:     c.media,
			Codec:     c.codec,
			Units:     c.units.Load(),
			Bytes:     c.bytes.Load(),
			Lost:      c.lost.Load(),
			Truncated: c.truncated.Load(),
		})
	}

	return stats
}
