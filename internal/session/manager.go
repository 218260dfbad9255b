package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-devicelink/internal/credentials"
	"github.com/nerrad567/gray-logic-devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devicelink/internal/router"
	"github.com/nerrad567/gray-logic-devicelink/internal/scheduler"
	"github.com/nerrad567/gray-logic-devicelink/internal/token"
)

// Loop is the event loop the manager runs on.
type Loop interface {
	Post(fn func()) bool
	Stop()
}

// Minter produces a fresh token for every connection attempt.
type Minter interface {
	Mint(projectID string, creds *credentials.Buffer, validity time.Duration) (token.Token, error)
}

// Scheduler is the periodic task registry.
type Scheduler interface {
	Schedule(purpose scheduler.Purpose, task scheduler.Task, interval, initialDelay time.Duration) scheduler.Handle
	Cancel(h scheduler.Handle)
}

// Recorder receives lifecycle telemetry. Implementations must not block.
type Recorder interface {
	RecordTransition(from, to, event string)
}

// Logger is the logging surface used by the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(string, string, string) {}

// Subscription is a filter established after every successful open.
type Subscription struct {
	Pattern string
	QoS     byte
}

// Settings are the fixed parameters of every connection attempt.
type Settings struct {
	ProjectID     string
	TokenValidity time.Duration

	// Params is reused unchanged for every attempt; only the password (the
	// minted token) differs.
	Params mqtt.ConnectParams

	Subscriptions       []Subscription
	PublishInterval     time.Duration
	PublishInitialDelay time.Duration

	Retry RetryPolicy
}

// Deps are the collaborators the manager drives.
type Deps struct {
	Loop        Loop
	Dialer      Dialer
	Minter      Minter
	Scheduler   Scheduler
	Router      *router.Router
	Credentials *credentials.Buffer

	// Reload refills the buffer for ReloadCredentials. Optional.
	Reload func(dst *credentials.Buffer) (int, error)

	// AfterFunc arms the backoff timer. Defaults to scheduler.StdAfterFunc.
	AfterFunc scheduler.AfterFunc
}

// Status is a point-in-time view of the manager, safe to read from any goroutine.
type Status struct {
	Phase          string    `json:"phase"`
	Attempts       int       `json:"attempts"`
	SessionID      uint64    `json:"session_id,omitempty"`
	Connects       uint64    `json:"connects"`
	Reconnects     uint64    `json:"reconnects"`
	TokenExpiresAt time.Time `json:"token_expires_at,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
	Subscriptions  []string  `json:"subscriptions"`
	Since          time.Time `json:"since"`
}

// Manager drives Transition. Every method except Status, Err and Done only
// posts work to the loop; the loop is the sole owner of the session, the
// credential buffer and the publish handle.
type Manager struct {
	settings Settings
	deps     Deps
	logger   Logger
	recorder Recorder

	// Loop-owned.
	state         State
	conn          Conn
	connID        uint64
	tok           token.Token
	publishHandle scheduler.Handle
	retryTimer    scheduler.Timer
	lastErr       error
	connects      uint64
	reconnects    uint64

	statusMu sync.Mutex
	status   Status
	haltErr  error
	done     chan struct{}
	doneOnce sync.Once
}

// NewManager validates settings and creates an idle manager.
func NewManager(settings Settings, deps Deps) (*Manager, error) {
	switch {
	case deps.Loop == nil, deps.Dialer == nil, deps.Minter == nil, deps.Scheduler == nil, deps.Router == nil:
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidSettings)
	case deps.Credentials == nil:
		return nil, fmt.Errorf("%w: credential buffer is required", ErrInvalidSettings)
	case settings.ProjectID == "":
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidSettings)
	case settings.PublishInterval <= 0:
		return nil, fmt.Errorf("%w: publish interval must be positive", ErrInvalidSettings)
	case settings.Retry.MaxAttempts < 0:
		return nil, fmt.Errorf("%w: retry attempts must not be negative", ErrInvalidSettings)
	}
	if err := settings.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = scheduler.StdAfterFunc
	}

	settings.Params.Password = ""
	m := &Manager{
		settings:      settings,
		deps:          deps,
		logger:        noopLogger{},
		recorder:      noopRecorder{},
		publishHandle: scheduler.InvalidHandle,
		done:          make(chan struct{}),
	}
	m.updateStatus()
	return m, nil
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(l Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetRecorder sets the telemetry recorder. Call before Start.
func (m *Manager) SetRecorder(r Recorder) {
	if r != nil {
		m.recorder = r
	}
}

// Start begins the first connection attempt.
func (m *Manager) Start() error {
	return m.post(func() { m.feed(Event{Kind: EventStart}) })
}

// Shutdown asks for an orderly stop: a connected device disconnects first,
// then the loop stops. Safe to call from any goroutine, more than once.
func (m *Manager) Shutdown() error {
	return m.post(func() { m.feed(Event{Kind: EventShutdown}) })
}

// ReloadCredentials refills the credential buffer and, if the device is
// stuck after a signing failure, reconnects with the new key.
func (m *Manager) ReloadCredentials() error {
	return m.post(m.reload)
}

// Done is closed once the manager halts or closes intentionally.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err returns why the manager halted, or nil for an orderly stop.
func (m *Manager) Err() error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.haltErr
}

// Status returns the latest snapshot.
func (m *Manager) Status() Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	s := m.status
	s.Subscriptions = append([]string(nil), m.status.Subscriptions...)
	return s
}

func (m *Manager) post(fn func()) error {
	if !m.deps.Loop.Post(fn) {
		return ErrLoopStopped
	}
	return nil
}

// feed runs one transition and its effects. Loop only.
func (m *Manager) feed(ev Event) {
	from := m.state
	next, effs := Transition(m.state, ev, m.settings.Retry)

	if next == from && len(effs) == 0 {
		m.logger.Debug("event ignored", "phase", from.Phase.String(), "event", ev.Kind.String())
		return
	}

	m.state = next
	if next.Phase != from.Phase {
		m.logger.Info("connection state changed",
			"from", from.Phase.String(),
			"to", next.Phase.String(),
			"event", ev.Kind.String(),
		)
	}
	m.recorder.RecordTransition(from.Phase.String(), next.Phase.String(), ev.Kind.String())

	if next.Phase == PhaseHalted || next.Phase == PhaseClosedIntentional {
		m.finish(ev)
	}
	m.updateStatus()
	m.execute(from, effs)
	m.updateStatus()
}

func (m *Manager) finish(ev Event) {
	var err error
	switch {
	case ev.Kind == EventShutdown:
	case ev.Kind == EventClosed && ev.Err == nil:
	default:
		err = m.lastErr
		if err == nil {
			err = ev.Err
		}
	}
	m.statusMu.Lock()
	m.haltErr = err
	m.statusMu.Unlock()
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Manager) execute(from State, effs []Effect) {
	for _, eff := range effs {
		switch eff.Kind {
		case EffectMintToken:
			if !m.mint() {
				// No connect without a token; the rest of the batch is skipped.
				return
			}
		case EffectConnect:
			if from.Phase != PhaseIdle {
				m.reconnects++
			}
			m.connect()
		case EffectConnectAfter:
			m.reconnects++
			m.connectAfter(eff.Delay)
		case EffectPublishNow:
			if err := m.deps.Router.PublishOnce(); err != nil {
				m.logger.Warn("initial publish failed", "error", err)
			}
		case EffectSchedulePublish:
			m.publishHandle = m.deps.Scheduler.Schedule(scheduler.PurposePublish,
				m.deps.Router.PeriodicTask(),
				m.settings.PublishInterval,
				m.settings.PublishInitialDelay,
			)
		case EffectSubscribe:
			m.subscribe()
		case EffectCancelPublish:
			m.deps.Scheduler.Cancel(m.publishHandle)
			m.publishHandle = scheduler.InvalidHandle
			m.stopRetryTimer()
		case EffectDisconnect:
			if m.conn != nil {
				if err := m.conn.Disconnect(); err != nil {
					m.logger.Warn("disconnect failed", "error", err)
				}
			}
		case EffectStopLoop:
			m.deps.Loop.Stop()
		}
	}
}

func (m *Manager) mint() bool {
	tok, err := m.deps.Minter.Mint(m.settings.ProjectID, m.deps.Credentials, m.settings.TokenValidity)
	if err != nil {
		m.lastErr = err
		m.logger.Error("minting token failed", "error", err)
		m.feed(Event{Kind: EventMintFailed, Err: err})
		return false
	}
	m.tok = tok
	m.logger.Debug("token minted", "expires_at", tok.ExpiresAt)
	return true
}

func (m *Manager) connectAfter(delay time.Duration) {
	if delay <= 0 {
		m.connect()
		return
	}
	m.stopRetryTimer()
	m.logger.Info("reconnecting after backoff", "delay", delay, "attempt", m.state.Attempts)
	m.retryTimer = m.deps.AfterFunc(delay, func() {
		m.deps.Loop.Post(func() {
			m.retryTimer = nil
			// Shutdown during the wait leaves nothing to connect for.
			if m.state.Phase != PhaseClosedUnexpected || m.state.Stalled {
				return
			}
			m.connect()
		})
	})
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// connect opens a session with the current token. Loop only.
func (m *Manager) connect() {
	if m.conn != nil {
		m.logger.Error("refusing to open a second session", "session_id", m.connID)
		return
	}

	params := m.settings.Params
	params.Password = m.tok.Value

	m.logger.Info("connecting", "broker", params.String())
	conn, err := m.deps.Dialer.Dial(params, m.onConnectionEvent)
	if err != nil {
		m.lastErr = err
		m.logger.Error("opening session failed", "error", err)
		m.feed(Event{Kind: EventOpenFailed, Err: err})
		return
	}
	m.conn = conn
	m.connID = conn.ID()
}

func (m *Manager) subscribe() {
	if m.conn == nil {
		return
	}
	for _, sub := range m.settings.Subscriptions {
		if err := m.conn.Subscribe(sub.Pattern, sub.QoS, m.deps.Router.Dispatch); err != nil {
			m.logger.Warn("subscribe failed", "pattern", sub.Pattern, "error", err)
			continue
		}
		m.logger.Info("subscribed", "pattern", sub.Pattern, "qos", sub.QoS)
	}
}

// onConnectionEvent receives session engine callbacks on the loop.
func (m *Manager) onConnectionEvent(ev mqtt.ConnectionEvent) {
	if m.conn == nil || ev.SessionID != m.connID {
		m.logger.Debug("stale connection event ignored", "session_id", ev.SessionID, "state", ev.State.String())
		return
	}

	switch ev.State {
	case mqtt.StateOpened:
		m.connects++
		m.lastErr = nil
		m.deps.Router.Attach(m.conn)
		m.logger.Info("connected", "host", ev.Host, "port", ev.Port, "token_expires_at", m.tok.ExpiresAt)
		m.feed(Event{Kind: EventOpened})

	case mqtt.StateOpenFailed:
		m.dropConn()
		m.lastErr = ev.Err
		m.logger.Error("connection failed", "host", ev.Host, "port", ev.Port, "reason", ev.Reason)
		m.feed(Event{Kind: EventOpenFailed, Err: ev.Err})

	case mqtt.StateClosed:
		m.dropConn()
		if ev.Err == nil {
			m.logger.Info("disconnected at device request")
			m.feed(Event{Kind: EventClosed})
			return
		}
		err := fmt.Errorf("%w: %w", ErrUnexpectedClosure, ev.Err)
		m.lastErr = err
		m.logger.Warn("connection closed unexpectedly", "reason", ev.Reason)
		m.feed(Event{Kind: EventClosed, Err: err})

	default:
		m.logger.Warn("unknown connection event ignored", "state", int(ev.State))
	}
}

func (m *Manager) dropConn() {
	m.deps.Router.Detach()
	m.conn = nil
	m.connID = 0
}

func (m *Manager) reload() {
	if m.deps.Reload == nil {
		m.logger.Debug("credential reload not configured")
		return
	}
	n, err := m.deps.Reload(m.deps.Credentials)
	if err != nil {
		level := m.logger.Warn
		if errors.Is(err, credentials.ErrBufferTooSmall) {
			level = m.logger.Error
		}
		level("credential reload failed, keeping previous key", "error", err)
		return
	}
	m.logger.Info("credentials reloaded", "bytes", n)
	m.feed(Event{Kind: EventCredentialsRefreshed})
}

func (m *Manager) updateStatus() {
	subs := make([]string, 0, len(m.settings.Subscriptions))
	if m.state.Phase == PhaseConnected {
		for _, s := range m.settings.Subscriptions {
			subs = append(subs, s.Pattern)
		}
	}

	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	if m.status.Phase != m.state.Phase.String() {
		m.status.Since = time.Now().UTC()
	}
	m.status.Phase = m.state.Phase.String()
	m.status.Attempts = m.state.Attempts
	m.status.SessionID = m.connID
	m.status.Connects = m.connects
	m.status.Reconnects = m.reconnects
	m.status.TokenExpiresAt = m.tok.ExpiresAt
	m.status.Subscriptions = subs
	m.status.LastError = ""
	if m.lastErr != nil {
		m.status.LastError = m.lastErr.Error()
	}
}
