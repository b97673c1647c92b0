// Package daemon implements the connection lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// Config holds lifecycle manager configuration.
type Config struct {
	RetryStep          time.Duration // Per-attempt backoff increment
	RetryLimit         time.Duration // Backoff ceiling for early attempts
	AttemptCeiling     int           // Attempts before switching to the cool-down cadence
	CoolDown           time.Duration // Fixed retry cadence past the ceiling
	PairingRetryDelay  time.Duration // Retry delay for closures during pairing
	PairingSettleDelay time.Duration // Wait before requesting a pairing code
}

// DefaultConfig returns default lifecycle configuration.
func DefaultConfig() Config {
	return Config{
		RetryStep:          3 * time.Second,
		RetryLimit:         15 * time.Second,
		AttemptCeiling:     10,
		CoolDown:           30 * time.Second,
		PairingRetryDelay:  5 * time.Second,
		PairingSettleDelay: 3 * time.Second,
	}
}

// RetryDelay computes the reconnect delay for a transient closure.
func RetryDelay(attempt int, step, limit time.Duration) time.Duration {
	d := time.Duration(attempt) * step
	if d > limit {
		return limit
	}
	return d
}

// MessageHandler consumes inbound messages forwarded by the manager.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage)
}

// PhoneSource supplies the phone number for unattended pairing. It may
// block on interactive input.
type PhoneSource func(ctx context.Context) (string, error)

// Manager owns the session state machine. It keeps the connection alive
// across disconnects, drives the pairing flow, and guarantees that no two
// reconnect sequences ever run concurrently.
type Manager struct {
	cfg     Config
	factory domain.TransportFactory
	phone   PhoneSource
	logger  *zap.Logger

	// terminate is called on a genuine logout; overridable in tests.
	terminate func(code int)

	mu               sync.Mutex
	transport        domain.Transport
	handler          MessageHandler
	state            domain.ConnectionState
	usable           bool
	reconnecting     bool
	attempts         int
	pairingRequested bool
	pairingShown     bool
	retryTimer       *time.Timer
	closed           bool
}

// NewManager creates a connection lifecycle manager.
func NewManager(cfg Config, factory domain.TransportFactory, phone PhoneSource, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		factory:   factory,
		phone:     phone,
		logger:    logger,
		terminate: os.Exit,
		state:     domain.StateDisconnected,
	}
}

// SetHandler wires the inbound message consumer. Must be called before Run.
func (m *Manager) SetHandler(h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Run connects and blocks until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	m.Connect(ctx)
	<-ctx.Done()
	m.Shutdown()
	return nil
}

// Connect establishes or re-establishes the session. Idempotent against
// concurrent invocation: if a reconnect is already in progress the call is
// a logged no-op. The reconnecting flag set here is cleared only when a
// scheduled retry re-invokes Connect, or on a successful open; rapid
// repeated close events therefore cannot spawn parallel reconnect chains.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.reconnecting {
		m.logger.Warn("reconnect already in progress, duplicate attempt ignored")
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	old := m.transport
	m.mu.Unlock()

	// Discard the previous instance and its subscriptions so stale
	// handlers cannot fire into the new session.
	if old != nil {
		old.Disconnect()
	}

	t, err := m.factory.New(ctx)
	if err != nil {
		m.logger.Error("failed to build transport", zap.Error(err))
		m.handleClose(ctx, nil, domain.CloseTransient)
		return
	}

	m.mu.Lock()
	m.transport = t
	if t.Registered() {
		m.state = domain.StateDisconnected
	} else {
		m.state = domain.StatePairing
	}
	m.mu.Unlock()

	go m.consume(ctx, t)

	if !t.Registered() {
		go m.maybeRequestPairing(ctx, t)
	}

	if err := t.Connect(ctx); err != nil {
		m.logger.Error("connect failed", zap.Error(err))
		m.handleClose(ctx, t, domain.CloseTransient)
	}
}

// consume drains one transport instance's event channel until it closes.
func (m *Manager) consume(ctx context.Context, t domain.Transport) {
	for ev := range t.Events() {
		switch {
		case ev.Connection != nil:
			m.handleConnection(ctx, t, *ev.Connection)
		case ev.Message != nil:
			m.mu.Lock()
			h := m.handler
			current := m.transport == t
			m.mu.Unlock()
			if current && h != nil {
				go h.HandleMessage(ctx, *ev.Message)
			}
		}
	}
}

func (m *Manager) handleConnection(ctx context.Context, t domain.Transport, ev domain.ConnectionEvent) {
	m.mu.Lock()
	if m.transport != t || m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch ev.Signal {
	case domain.SignalConnecting:
		m.mu.Lock()
		m.usable = false
		m.mu.Unlock()
		m.logger.Info("connecting")
	case domain.SignalOpen:
		m.handleOpen(t)
	case domain.SignalClose:
		m.handleClose(ctx, t, ev.Reason)
	}
}

func (m *Manager) handleOpen(t domain.Transport) {
	m.mu.Lock()
	m.state = domain.StateConnected
	m.usable = true
	m.attempts = 0
	m.reconnecting = false
	// Pairing ticket is destroyed on successful authentication.
	m.pairingRequested = false
	m.pairingShown = false
	m.mu.Unlock()

	m.logger.Info("session connected")
}

func (m *Manager) handleClose(ctx context.Context, t domain.Transport, reason domain.CloseReason) {
	m.mu.Lock()
	m.usable = false

	registered := t != nil && t.Registered()

	if reason == domain.CloseLoggedOut && !registered {
		// A logout during pairing is a flow hiccup, not a real logout:
		// retry after a fixed delay without touching the attempt counter.
		if m.pairingShown {
			m.logger.Warn("still waiting for the pairing code to be entered")
		} else {
			m.pairingRequested = false
			m.logger.Warn("connection closed during pairing, reconnecting")
		}
		m.state = domain.StateReconnecting
		m.mu.Unlock()
		m.scheduleRetry(ctx, m.cfg.PairingRetryDelay)
		return
	}

	if reason == domain.CloseLoggedOut {
		m.state = domain.StateTerminated
		m.mu.Unlock()
		m.logger.Error("logged out by backend, re-authenticate and restart")
		m.terminate(0)
		return
	}

	m.state = domain.StateReconnecting
	var delay time.Duration
	if m.attempts >= m.cfg.AttemptCeiling {
		delay = m.cfg.CoolDown
		m.logger.Error("repeated reconnect attempts failed, switching to cool-down cadence",
			zap.Duration("retry_in", delay))
	} else {
		m.attempts++
		delay = RetryDelay(m.attempts, m.cfg.RetryStep, m.cfg.RetryLimit)
		m.logger.Warn("connection closed",
			zap.Int("attempt", m.attempts),
			zap.Duration("retry_in", delay))
	}
	m.mu.Unlock()
	m.scheduleRetry(ctx, delay)
}

// scheduleRetry re-invokes Connect after the delay. The reconnecting flag
// is cleared only at the moment of re-invocation, never before.
func (m *Manager) scheduleRetry(ctx context.Context, delay time.Duration) {
	timer := time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.reconnecting = false
		m.mu.Unlock()
		m.Connect(ctx)
	})

	m.mu.Lock()
	m.retryTimer = timer
	m.mu.Unlock()
}

// maybeRequestPairing requests and displays a pairing code at most once per
// unauthenticated session attempt. A failed request resets the
// requested-flag so the next connection attempt retries it.
func (m *Manager) maybeRequestPairing(ctx context.Context, t domain.Transport) {
	m.mu.Lock()
	if m.pairingRequested || m.pairingShown {
		m.mu.Unlock()
		return
	}
	m.pairingRequested = true
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.PairingSettleDelay):
	}

	m.logger.Info("waiting for pairing code")
	phone, err := m.phone(ctx)
	if err != nil || strings.TrimSpace(phone) == "" {
		m.logger.Error("phone number is required for pairing", zap.Error(err))
		m.mu.Lock()
		m.pairingRequested = false
		m.mu.Unlock()
		return
	}

	digits := digitsOnly(phone)
	m.logger.Info("requesting pairing code", zap.String("phone", digits))
	code, err := t.RequestPairingCode(ctx, digits)
	if err != nil {
		m.logger.Error("failed to request pairing code", zap.Error(err))
		m.mu.Lock()
		m.pairingRequested = false
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.pairingShown = true
	m.mu.Unlock()

	banner := strings.Repeat("=", 50)
	fmt.Printf("\n%s\n  PAIRING CODE: %s\n%s\n", banner, code, banner)
	fmt.Println("Open the app -> Linked Devices -> Link with Phone Number")
	fmt.Println("Enter the code above to connect the bot")
	m.logger.Info("pairing code displayed, waiting for entry")
}

// Shutdown tears the session down and stops any pending retry.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.state = domain.StateTerminated
	m.usable = false
	t := m.transport
	timer := m.retryTimer
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if t != nil {
		t.Disconnect()
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Usable reports whether the session can carry sends right now.
func (m *Manager) Usable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usable
}

// current returns the transport if the session is usable.
func (m *Manager) current() (domain.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable || m.transport == nil {
		return nil, domain.ErrSessionNotUsable
	}
	return m.transport, nil
}

// SendText forwards to the current transport, failing fast when the
// session is not usable.
func (m *Manager) SendText(ctx context.Context, to, text string) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	return t.SendText(ctx, to, text)
}

// SendImage forwards to the current transport.
func (m *Manager) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	return t.SendImage(ctx, to, image, caption)
}

// SendDocument forwards to the current transport.
func (m *Manager) SendDocument(ctx context.Context, to string, doc []byte, filename, mimetype string) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	return t.SendDocument(ctx, to, doc, filename, mimetype)
}

// SendReaction forwards to the current transport.
func (m *Manager) SendReaction(ctx context.Context, to string, target domain.MessageRef, emoji string) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	return t.SendReaction(ctx, to, target, emoji)
}

// digitsOnly strips everything but digits from a phone number.
func digitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
