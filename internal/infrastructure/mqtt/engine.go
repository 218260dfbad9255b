package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Poster runs functions on the caller's event loop. Post returns false once
// the loop has stopped.
type Poster interface {
	Post(fn func()) bool
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// ClientFactory creates the paho client for a session.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Engine opens sessions. At most one session per Engine is live at a time.
//
// Thread Safety:
//   - Open may be called from any goroutine, but callbacks always run via the Poster.
type Engine struct {
	poster    Poster
	newClient ClientFactory
	quiesce   uint

	mu     sync.Mutex
	nextID uint64
	live   *Session

	loggerMu sync.RWMutex
	logger   Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClientFactory replaces pahomqtt.NewClient.
func WithClientFactory(f ClientFactory) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.newClient = f
		}
	}
}

// WithDisconnectQuiesce sets how long Disconnect waits for in-flight work (milliseconds).
func WithDisconnectQuiesce(ms uint) EngineOption {
	return func(e *Engine) {
		e.quiesce = ms
	}
}

// NewEngine creates an engine that posts every callback through poster.
func NewEngine(poster Poster, opts ...EngineOption) *Engine {
	e := &Engine{
		poster:    poster,
		newClient: pahomqtt.NewClient,
		quiesce:   defaultDisconnectQuiesce,
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLogger sets the logger.
func (e *Engine) SetLogger(l Logger) {
	if l == nil {
		return
	}
	e.loggerMu.Lock()
	e.logger = l
	e.loggerMu.Unlock()
}

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

// Open starts a connection attempt and returns its session immediately.
//
// The outcome arrives later through onState: exactly one StateOpened or
// StateOpenFailed, and after a successful open exactly one StateClosed. A
// session lost before its open is confirmed reports StateOpenFailed. Open fails
// synchronously only for invalid parameters or while another session is live.
func (e *Engine) Open(p ConnectParams, onState func(ConnectionEvent)) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if onState == nil {
		return nil, fmt.Errorf("%w: state callback is required", ErrInvalidParams)
	}

	opts, err := buildClientOptions(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	e.mu.Lock()
	if e.live != nil {
		e.mu.Unlock()
		return nil, ErrSessionLive
	}
	e.nextID++
	s := &Session{
		id:      e.nextID,
		params:  p,
		engine:  e,
		onState: onState,
	}
	e.live = s
	e.mu.Unlock()

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if err == nil {
			err = errors.New("connection lost")
		}
		s.finish(err)
	})

	s.client = e.newClient(opts)
	tok := s.client.Connect()
	go s.awaitOpen(tok)

	return s, nil
}

// Live returns the live session, or nil.
func (e *Engine) Live() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

func (e *Engine) release(s *Session) {
	e.mu.Lock()
	if e.live == s {
		e.live = nil
	}
	e.mu.Unlock()
}

func (e *Engine) post(fn func()) {
	if !e.poster.Post(fn) {
		e.getLogger().Debug("mqtt callback dropped, event loop stopped")
	}
}

// connackReason returns the protocol reason text for a failed connect.
func connackReason(tok pahomqtt.Token, err error) string {
	if ct, ok := tok.(*pahomqtt.ConnectToken); ok {
		code := ct.ReturnCode()
		if code != packets.Accepted {
			if text, ok := packets.ConnackReturnCodes[code]; ok {
				return text
			}
		}
	}
	if err != nil {
		return err.Error()
	}
	return "unknown"
}

// awaitToken waits for tok to complete or for timeout to pass.
func awaitToken(tok pahomqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return tok.Error()
}
