package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// TransportConfig tunes the messaging client adapter.
type TransportConfig struct {
	QueryTimeout time.Duration // Per-send deadline
	DeviceName   string        // Shown in the backend's linked-devices list
	EventBuffer  int           // Event channel capacity
}

// DefaultTransportConfig returns default transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		QueryTimeout: 30 * time.Second,
		DeviceName:   "Chrome (Windows)",
		EventBuffer:  64,
	}
}

// WhatsTransportFactory builds whatsmeow-backed transport instances from a
// shared encrypted session container.
type WhatsTransportFactory struct {
	container *sqlstore.Container
	cfg       TransportConfig
	logger    *zap.Logger
}

// NewWhatsTransportFactory creates a transport factory.
func NewWhatsTransportFactory(container *sqlstore.Container, cfg TransportConfig, logger *zap.Logger) *WhatsTransportFactory {
	return &WhatsTransportFactory{container: container, cfg: cfg, logger: logger}
}

// New builds a fresh transport instance, loading session credentials.
func (f *WhatsTransportFactory) New(ctx context.Context) (domain.Transport, error) {
	device, err := f.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session credentials: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	// The lifecycle manager owns reconnects; the client must not race it.
	client.EnableAutoReconnect = false

	t := &WhatsTransport{
		client: client,
		cfg:    f.cfg,
		events: make(chan domain.TransportEvent, f.cfg.EventBuffer),
		logger: f.logger,
	}
	client.AddEventHandler(t.handleEvent)
	return t, nil
}

// WhatsTransport adapts one whatsmeow client instance to domain.Transport.
// Each instance owns its event channel; Disconnect closes it, so consumers
// of a discarded instance terminate instead of receiving stale events.
type WhatsTransport struct {
	client *whatsmeow.Client
	cfg    TransportConfig
	events chan domain.TransportEvent
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Connect opens the link.
func (t *WhatsTransport) Connect(ctx context.Context) error {
	t.emit(domain.TransportEvent{Connection: &domain.ConnectionEvent{Signal: domain.SignalConnecting}})
	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect tears the link down, removes all event subscriptions, and
// closes the event channel.
func (t *WhatsTransport) Disconnect() {
	t.client.RemoveEventHandlers()
	t.client.Disconnect()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
}

// Events delivers connection and message events for this instance only.
func (t *WhatsTransport) Events() <-chan domain.TransportEvent {
	return t.events
}

// Registered reports whether stored credentials are paired with the backend.
func (t *WhatsTransport) Registered() bool {
	return t.client.Store.ID != nil
}

// RequestPairingCode asks the backend for a one-time pairing code.
func (t *WhatsTransport) RequestPairingCode(ctx context.Context, phoneDigits string) (string, error) {
	code, err := t.client.PairPhone(ctx, phoneDigits, true, whatsmeow.PairClientChrome, t.cfg.DeviceName)
	if err != nil {
		return "", fmt.Errorf("failed to request pairing code: %w", err)
	}
	return code, nil
}

// SendText sends a plain text message.
func (t *WhatsTransport) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("failed to parse recipient %q: %w", to, err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.QueryTimeout)
	defer cancel()

	_, err = t.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

// SendImage uploads the image and sends it with a caption.
func (t *WhatsTransport) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("failed to parse recipient %q: %w", to, err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.QueryTimeout)
	defer cancel()

	up, err := t.client.Upload(ctx, image, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	_, err = t.client.SendMessage(ctx, jid, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String("image/jpeg"),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		},
	})
	return err
}

// SendDocument uploads the document and sends it as a file attachment.
// No per-send deadline here: large uploads stream longer than a query.
func (t *WhatsTransport) SendDocument(ctx context.Context, to string, doc []byte, filename, mimetype string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("failed to parse recipient %q: %w", to, err)
	}

	up, err := t.client.Upload(ctx, doc, whatsmeow.MediaDocument)
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}
	_, err = t.client.SendMessage(ctx, jid, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			FileName:      proto.String(filename),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		},
	})
	return err
}

// SendReaction sends a reaction tied to a previously received message.
func (t *WhatsTransport) SendReaction(ctx context.Context, to string, target domain.MessageRef, emoji string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("failed to parse recipient %q: %w", to, err)
	}
	chat, err := types.ParseJID(target.Chat)
	if err != nil {
		return fmt.Errorf("failed to parse target chat %q: %w", target.Chat, err)
	}
	sender, err := types.ParseJID(target.Sender)
	if err != nil {
		return fmt.Errorf("failed to parse target sender %q: %w", target.Sender, err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.QueryTimeout)
	defer cancel()

	_, err = t.client.SendMessage(ctx, jid, t.client.BuildReaction(chat, sender, types.MessageID(target.ID), emoji))
	return err
}

// handleEvent translates whatsmeow events into typed transport events.
func (t *WhatsTransport) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		t.emitConnection(domain.SignalOpen, "")
	case *events.Disconnected:
		t.emitConnection(domain.SignalClose, domain.CloseTransient)
	case *events.StreamReplaced:
		t.emitConnection(domain.SignalClose, domain.CloseTransient)
	case *events.TemporaryBan:
		t.emitConnection(domain.SignalClose, domain.CloseTransient)
	case *events.ConnectFailure:
		t.emitConnection(domain.SignalClose, domain.CloseTransient)
	case *events.LoggedOut:
		t.emitConnection(domain.SignalClose, domain.CloseLoggedOut)
	case *events.Message:
		t.emitMessage(v)
	}
}

func (t *WhatsTransport) emitConnection(signal domain.ConnectionSignal, reason domain.CloseReason) {
	t.emit(domain.TransportEvent{Connection: &domain.ConnectionEvent{Signal: signal, Reason: reason}})
}

func (t *WhatsTransport) emitMessage(v *events.Message) {
	msg := domain.InboundMessage{
		ID:         string(v.Info.ID),
		Chat:       v.Info.Chat.String(),
		Sender:     v.Info.Sender.String(),
		FromSelf:   v.Info.IsFromMe,
		HasPayload: v.Message != nil,
		Kind:       domain.KindUnsupported,
		Ref: domain.MessageRef{
			Chat:   v.Info.Chat.String(),
			Sender: v.Info.Sender.String(),
			ID:     string(v.Info.ID),
			FromMe: v.Info.IsFromMe,
		},
	}
	if v.Message != nil {
		if text := v.Message.GetConversation(); text != "" {
			msg.Kind = domain.KindText
			msg.Text = text
		} else if ext := v.Message.GetExtendedTextMessage(); ext != nil {
			msg.Kind = domain.KindText
			msg.Text = ext.GetText()
		}
	}
	t.emit(domain.TransportEvent{Message: &msg})
}

// emit pushes an event, dropping it if the buffer is full or the instance
// was discarded.
func (t *WhatsTransport) emit(ev domain.TransportEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("transport event buffer full, dropping event")
	}
}
