//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/daemon"
	"github.com/apkdrop/apkdrop/internal/domain"
	"github.com/apkdrop/apkdrop/internal/infra"
	"github.com/apkdrop/apkdrop/internal/usecase"
)

const testChat = "123456789@s.whatsapp.net"

// sentRecord captures one outbound send for assertions.
type sentRecord struct {
	Kind     string
	To       string
	Text     string
	Filename string
	Emoji    string
}

// scriptedTransport implements domain.Transport over an in-memory event
// channel, recording every send.
type scriptedTransport struct {
	mu     sync.Mutex
	events chan domain.TransportEvent
	sent   []sentRecord
	closed bool
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{events: make(chan domain.TransportEvent, 16)}
}

func (s *scriptedTransport) Connect(ctx context.Context) error { return nil }

func (s *scriptedTransport) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *scriptedTransport) Events() <-chan domain.TransportEvent { return s.events }
func (s *scriptedTransport) Registered() bool                     { return true }

func (s *scriptedTransport) RequestPairingCode(ctx context.Context, phoneDigits string) (string, error) {
	return "", fmt.Errorf("already registered")
}

func (s *scriptedTransport) record(r sentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, r)
}

func (s *scriptedTransport) SendText(ctx context.Context, to, text string) error {
	s.record(sentRecord{Kind: "text", To: to, Text: text})
	return nil
}

func (s *scriptedTransport) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	s.record(sentRecord{Kind: "image", To: to, Text: caption})
	return nil
}

func (s *scriptedTransport) SendDocument(ctx context.Context, to string, doc []byte, filename, mimetype string) error {
	s.record(sentRecord{Kind: "document", To: to, Filename: filename})
	return nil
}

func (s *scriptedTransport) SendReaction(ctx context.Context, to string, target domain.MessageRef, emoji string) error {
	s.record(sentRecord{Kind: "reaction", To: to, Emoji: emoji})
	return nil
}

func (s *scriptedTransport) sentRecords() []sentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentRecord, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *scriptedTransport) emitOpen() {
	s.events <- domain.TransportEvent{Connection: &domain.ConnectionEvent{Signal: domain.SignalOpen}}
}

func (s *scriptedTransport) emitText(id, text string) {
	s.events <- domain.TransportEvent{Message: &domain.InboundMessage{
		ID:         id,
		Chat:       testChat,
		Sender:     testChat,
		HasPayload: true,
		Kind:       domain.KindText,
		Text:       text,
	}}
}

type singleTransportFactory struct {
	transport *scriptedTransport
}

func (f *singleTransportFactory) New(ctx context.Context) (domain.Transport, error) {
	return f.transport, nil
}

var _ = Describe("Delivery Pipeline", func() {
	var (
		tmpDir    string
		apkPath   string
		transport *scriptedTransport
		manager   *daemon.Manager
		catalog   *httptest.Server
		cleaner   *usecase.Cleaner
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "apkdrop-integration-*")
		Expect(err).NotTo(HaveOccurred())
		apkPath = filepath.Join(tmpDir, "com.whatsapp.apk")

		catalog = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/api/v1/search":
				fmt.Fprintf(w, `{"results":[{"app_id":"com.whatsapp","title":"WhatsApp","url":"https://example.com/app?id=com.whatsapp"}]}`)
			case r.URL.Path == "/api/v1/apps/com.whatsapp":
				fmt.Fprintf(w, `{"app_id":"com.whatsapp","title":"WhatsApp","version":"2.24.1","size":"1MB"}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))

		logger := zap.NewNop()
		fs := infra.NewFileSystemManager()

		// The worker writes a real artifact and reports it on stdout the
		// way the scraper subprocess does.
		script := fmt.Sprintf(`printf 'apk bytes' > %q && echo '{"file_path":%q,"is_xapk":false}'`, apkPath, apkPath)
		worker := infra.NewWorkerRunner([]string{"/bin/sh", "-c", script}, time.Minute, logger)

		catalogClient := infra.NewCatalogClient(catalog.URL, 5*time.Second, logger)
		coordinator := usecase.NewCoordinator(catalogClient, worker, fs, logger)
		cleaner = usecase.NewCleaner(fs, logger)

		transport = newScriptedTransport()
		factory := &singleTransportFactory{transport: transport}

		managerCfg := daemon.DefaultConfig()
		managerCfg.RetryStep = 10 * time.Millisecond
		managerCfg.RetryLimit = 50 * time.Millisecond
		manager = daemon.NewManager(managerCfg, factory,
			func(ctx context.Context) (string, error) { return "", nil }, logger)

		dispatcherCfg := usecase.DefaultDispatcherConfig()
		dispatcherCfg.MaxFileSizeMB = 2048
		dispatcherCfg.RejectDeleteDelay = 10 * time.Millisecond
		dispatcherCfg.DeliveredDeleteDelay = 10 * time.Millisecond
		dispatcher := usecase.NewDispatcher(dispatcherCfg, manager, coordinator, catalogClient, fs, cleaner, logger)
		manager.SetHandler(dispatcher)

		manager.Connect(context.Background())
		transport.emitOpen()
		Eventually(manager.Usable, time.Second, 5*time.Millisecond).Should(BeTrue())
	})

	AfterEach(func() {
		manager.Shutdown()
		catalog.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("a package request", func() {
		It("delivers the artifact and cleans up afterwards", func() {
			transport.emitText("m1", "whatsapp")

			Eventually(func() []sentRecord {
				return transport.sentRecords()
			}, 10*time.Second, 20*time.Millisecond).Should(ContainElement(
				HaveField("Kind", "document"),
			))

			sent := transport.sentRecords()
			Expect(sent[0].Kind).To(Equal("reaction"))
			Expect(sent[0].Emoji).To(Equal("🔍"))

			var doc sentRecord
			for _, r := range sent {
				if r.Kind == "document" {
					doc = r
				}
			}
			Expect(doc.To).To(Equal(testChat))
			Expect(doc.Filename).To(Equal("com.whatsapp.apk"))

			Eventually(func() []sentRecord {
				return transport.sentRecords()
			}, 5*time.Second, 20*time.Millisecond).Should(ContainElement(
				HaveField("Emoji", "✅"),
			))

			Eventually(func() bool {
				_, err := os.Stat(apkPath)
				return os.IsNotExist(err)
			}, 5*time.Second, 20*time.Millisecond).Should(BeTrue(),
				"the delivered artifact must be deleted after the grace period")
		})
	})

	Describe("a greeting", func() {
		It("answers with the welcome text and fetches nothing", func() {
			transport.emitText("m2", "hi")

			Eventually(func() []sentRecord {
				return transport.sentRecords()
			}, 5*time.Second, 20*time.Millisecond).Should(ContainElement(
				HaveField("Kind", "text"),
			))

			Consistently(func() bool {
				_, err := os.Stat(apkPath)
				return os.IsNotExist(err)
			}, 200*time.Millisecond, 50*time.Millisecond).Should(BeTrue(),
				"a greeting must not trigger a download")
		})
	})

	Describe("an unknown app", func() {
		It("replies with a failure message", func() {
			emptyCatalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"results":[]}`)
			}))
			defer emptyCatalog.Close()

			logger := zap.NewNop()
			fs := infra.NewFileSystemManager()
			worker := infra.NewWorkerRunner([]string{"/bin/sh", "-c", "exit 1"}, time.Minute, logger)
			catalogClient := infra.NewCatalogClient(emptyCatalog.URL, 5*time.Second, logger)
			coordinator := usecase.NewCoordinator(catalogClient, worker, fs, logger)

			dispatcherCfg := usecase.DefaultDispatcherConfig()
			dispatcher := usecase.NewDispatcher(dispatcherCfg, manager, coordinator, catalogClient, fs, cleaner, logger)
			manager.SetHandler(dispatcher)

			transport.emitText("m3", "definitely not a real app zzz")

			Eventually(func() []sentRecord {
				return transport.sentRecords()
			}, 10*time.Second, 20*time.Millisecond).Should(ContainElement(
				HaveField("Kind", "text"),
			))
		})
	})
})
