package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/domain"
	"github.com/apkdrop/apkdrop/internal/reply"
)

const apkMimetype = "application/vnd.android.package-archive"

// Session is the dispatcher's view of the live connection. Usability must
// be re-checked immediately before every send: the session may drop while
// a request is still being processed.
type Session interface {
	Usable() bool
	SendText(ctx context.Context, to, text string) error
	SendImage(ctx context.Context, to string, image []byte, caption string) error
	SendDocument(ctx context.Context, to string, doc []byte, filename, mimetype string) error
	SendReaction(ctx context.Context, to string, target domain.MessageRef, emoji string) error
}

// Resolver resolves an app name to a fetch result.
type Resolver interface {
	Resolve(ctx context.Context, name string) *domain.FetchResult
}

// DispatcherConfig holds request handling configuration.
type DispatcherConfig struct {
	MaxFileSizeMB        float64       // Packages above this are rejected, not sent
	RejectDeleteDelay    time.Duration // Deletion delay after a size rejection
	DeliveredDeleteDelay time.Duration // Deletion delay after delivery (upload may still stream)
	StatusBroadcast      string        // Broadcast channel identity, always discarded
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxFileSizeMB:        2048,
		RejectDeleteDelay:    5 * time.Second,
		DeliveredDeleteDelay: 10 * time.Second,
		StatusBroadcast:      "status@broadcast",
	}
}

// Dispatcher is the single entry point for inbound messages. It filters
// noise, deduplicates by event id, and turns one valid request into one
// coordinated unit of work.
type Dispatcher struct {
	cfg      DispatcherConfig
	session  Session
	resolver Resolver
	catalog  domain.Catalog
	fs       domain.FileSystemManager
	cleaner  *Cleaner
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDispatcher creates a request dispatcher.
func NewDispatcher(
	cfg DispatcherConfig,
	session Session,
	resolver Resolver,
	catalog domain.Catalog,
	fs domain.FileSystemManager,
	cleaner *Cleaner,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		session:  session,
		resolver: resolver,
		catalog:  catalog,
		fs:       fs,
		cleaner:  cleaner,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// HandleMessage processes one inbound message event. Every exit path is a
// silent discard, a single reply, or a full delivery; per-message errors
// never escape.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg domain.InboundMessage) {
	if !d.session.Usable() {
		return
	}
	if !msg.HasPayload || msg.FromSelf || msg.Chat == "" {
		return
	}
	if msg.Chat == d.cfg.StatusBroadcast {
		return
	}
	if !d.markInFlight(msg.ID) {
		return // duplicate delivery
	}
	defer d.clearInFlight(msg.ID)

	if msg.Kind != domain.KindText || msg.Text == "" {
		return
	}
	if reply.IsTransportNoise(msg.Text) {
		return
	}

	d.logger.Info("message received",
		zap.String("sender", msg.Sender),
		zap.String("text", msg.Text))

	if reply.IsGreeting(msg.Text) {
		d.deliverText(ctx, msg.Chat, reply.Welcome(int(d.cfg.MaxFileSizeMB)))
		return
	}
	if strings.HasPrefix(msg.Text, reply.CommandPrefix) {
		return
	}

	name := reply.Normalize(msg.Text)
	if name == "" {
		return
	}
	if name != strings.ToLower(strings.TrimSpace(msg.Text)) {
		d.logger.Info("query translated",
			zap.String("from", strings.TrimSpace(msg.Text)),
			zap.String("to", name))
	}
	d.logger.Info("searching", zap.String("app", name))

	if !d.session.Usable() {
		d.logger.Warn("request dropped, session is reconnecting", zap.String("app", name))
		return
	}

	if err := d.react(ctx, msg, reply.ReactSearching); err != nil {
		d.logger.Warn("failed to send acknowledgement reaction", zap.Error(err))
	}

	result := d.resolver.Resolve(ctx, name)
	d.respond(ctx, msg, result)
}

// respond turns the coordinator's result into the outbound reply sequence.
func (d *Dispatcher) respond(ctx context.Context, msg domain.InboundMessage, result *domain.FetchResult) {
	chat := msg.Chat

	if result == nil {
		d.logger.Error("no result returned from resolver")
		d.deliverText(ctx, chat, reply.GenericFailure())
		return
	}

	if result.Failed() {
		d.logger.Error("lookup failed", zap.String("reason", result.Err))
		d.deliverText(ctx, chat, reply.Failure(result.Err))
		return
	}

	if result.SizeMB > d.cfg.MaxFileSizeMB {
		d.logger.Warn("file exceeds size limit",
			zap.String("app", result.Name),
			zap.Float64("size_mb", result.SizeMB))
		if d.fs.Exists(result.FilePath) {
			d.cleaner.ScheduleDelete(result.FilePath, d.cfg.RejectDeleteDelay)
		}
		d.deliverText(ctx, chat, reply.TooLarge(result, int(d.cfg.MaxFileSizeMB)))
		return
	}

	if err := d.sendInfo(ctx, chat, result); err != nil {
		d.abort(ctx, chat, result, err)
		return
	}

	if !d.fs.Exists(result.FilePath) {
		d.logger.Error("downloaded file missing", zap.String("path", result.FilePath))
		d.deliverText(ctx, chat, reply.FileMissing())
		return
	}
	doc, err := d.fs.Read(result.FilePath)
	if err != nil {
		d.logger.Error("failed to read downloaded file",
			zap.String("path", result.FilePath),
			zap.Error(err))
		d.deliverText(ctx, chat, reply.FileMissing())
		return
	}

	kind := "APK"
	if result.IsXAPK {
		kind = "XAPK"
	}
	d.logger.Info("sending package",
		zap.String("kind", kind),
		zap.String("filename", result.Filename),
		zap.String("size", result.Size))

	if err := d.sendDocument(ctx, chat, doc, result.Filename); err != nil {
		d.abort(ctx, chat, result, err)
		return
	}

	if result.IsXAPK {
		if err := d.sendText(ctx, chat, reply.XAPKInstructions()); err != nil {
			d.abort(ctx, chat, result, err)
			return
		}
	}

	if err := d.react(ctx, msg, reply.ReactDone); err != nil {
		d.logger.Warn("failed to send completion reaction", zap.Error(err))
	}

	d.logger.Info("package delivered", zap.String("app", result.Name))

	// Longer delay than the rejection path: the transport may still be
	// streaming the upload.
	d.cleaner.ScheduleDelete(result.FilePath, d.cfg.DeliveredDeleteDelay)
}

// sendInfo sends the metadata summary, attempting an icon-image attachment
// first and degrading silently to plain text if the icon fetch fails.
func (d *Dispatcher) sendInfo(ctx context.Context, chat string, result *domain.FetchResult) error {
	info := reply.AppInfo(result)

	if result.Icon != "" {
		icon, err := d.catalog.FetchIcon(ctx, result.Icon)
		if err == nil {
			if err := d.sendImage(ctx, chat, icon, info); err == nil {
				return nil
			}
		} else {
			d.logger.Warn("icon fetch failed, falling back to text", zap.Error(err))
		}
	}
	return d.sendText(ctx, chat, info)
}

// abort handles a failed delivery: the session dropping mid-processing is a
// silent stop, anything else gets one generic failure reply. The downloaded
// file is still cleaned up.
func (d *Dispatcher) abort(ctx context.Context, chat string, result *domain.FetchResult, err error) {
	if err == domain.ErrSessionNotUsable {
		d.logger.Warn("session dropped mid-delivery", zap.String("app", result.Name))
	} else {
		d.logger.Error("delivery failed", zap.String("app", result.Name), zap.Error(err))
		d.deliverText(ctx, chat, reply.ProcessingFailure())
	}
	if d.fs.Exists(result.FilePath) {
		d.cleaner.ScheduleDelete(result.FilePath, d.cfg.RejectDeleteDelay)
	}
}

func (d *Dispatcher) sendText(ctx context.Context, to, text string) error {
	if !d.session.Usable() {
		return domain.ErrSessionNotUsable
	}
	return d.session.SendText(ctx, to, text)
}

func (d *Dispatcher) sendImage(ctx context.Context, to string, image []byte, caption string) error {
	if !d.session.Usable() {
		return domain.ErrSessionNotUsable
	}
	return d.session.SendImage(ctx, to, image, caption)
}

func (d *Dispatcher) sendDocument(ctx context.Context, to string, doc []byte, filename string) error {
	if !d.session.Usable() {
		return domain.ErrSessionNotUsable
	}
	return d.session.SendDocument(ctx, to, doc, filename, apkMimetype)
}

func (d *Dispatcher) react(ctx context.Context, msg domain.InboundMessage, emoji string) error {
	if !d.session.Usable() {
		return domain.ErrSessionNotUsable
	}
	return d.session.SendReaction(ctx, msg.Chat, msg.Ref, emoji)
}

// deliverText sends a reply, logging failures instead of propagating them.
func (d *Dispatcher) deliverText(ctx context.Context, to, text string) {
	if err := d.sendText(ctx, to, text); err != nil {
		if err != domain.ErrSessionNotUsable {
			d.logger.Warn("failed to send reply", zap.Error(err))
		}
	}
}

// markInFlight records an event id, refusing duplicates. The id stays
// tracked only for the duration of processing.
func (d *Dispatcher) markInFlight(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[id]; busy {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Dispatcher) clearInFlight(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, id)
}
