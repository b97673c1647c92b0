package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/apkdrop/apkdrop/internal/domain"
)

// mockCatalog implements domain.Catalog for testing.
type mockCatalog struct {
	mu           sync.Mutex
	searchResult []domain.CatalogMatch
	searchErr    error
	details      *domain.CatalogDetails
	detailsErr   error
	icon         []byte
	iconErr      error
	searchCalls  int
	detailsIDs   []string
}

func (m *mockCatalog) Search(ctx context.Context, term string) ([]domain.CatalogMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchResult, nil
}

func (m *mockCatalog) Details(ctx context.Context, appID string) (*domain.CatalogDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailsIDs = append(m.detailsIDs, appID)
	if m.detailsErr != nil {
		return nil, m.detailsErr
	}
	return m.details, nil
}

func (m *mockCatalog) FetchIcon(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.iconErr != nil {
		return nil, m.iconErr
	}
	return m.icon, nil
}

// mockWorker implements domain.FetchWorker for testing.
type mockWorker struct {
	mu      sync.Mutex
	report  *domain.WorkerReport
	err     error
	started chan struct{} // closed when Fetch is entered, if set
	release chan struct{} // Fetch blocks until closed, if set
	calls   int
}

func (m *mockWorker) Fetch(ctx context.Context, appID string) (*domain.WorkerReport, error) {
	m.mu.Lock()
	m.calls++
	started := m.started
	release := m.release
	m.started = nil
	m.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

func (m *mockWorker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockFS implements domain.FileSystemManager for testing.
type mockFS struct {
	mu        sync.Mutex
	files     map[string][]byte
	deleteErr error
	deleted   []string
}

func newMockFS() *mockFS {
	return &mockFS{files: make(map[string][]byte)}
}

func (m *mockFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *mockFS) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("no such file: %s", path)
	}
	delete(m.files, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *mockFS) Read(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return data, nil
}

func (m *mockFS) Size(path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return 0, fmt.Errorf("no such file: %s", path)
	}
	return int64(len(data)), nil
}

func (m *mockFS) EnsureDir(path string) error {
	return nil
}

func (m *mockFS) deletedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// sentItem records one outbound operation on the mock session.
type sentItem struct {
	kind     string // "text", "image", "document", "reaction"
	to       string
	text     string // text body, image caption, or reaction emoji
	filename string
}

// mockSession implements Session for testing.
type mockSession struct {
	mu      sync.Mutex
	usable  bool
	sent    []sentItem
	sendErr map[string]error // per kind
}

func newMockSession() *mockSession {
	return &mockSession{usable: true, sendErr: make(map[string]error)}
}

func (m *mockSession) Usable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usable
}

func (m *mockSession) setUsable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usable = v
}

func (m *mockSession) record(item sentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sendErr[item.kind]; err != nil {
		return err
	}
	m.sent = append(m.sent, item)
	return nil
}

func (m *mockSession) SendText(ctx context.Context, to, text string) error {
	return m.record(sentItem{kind: "text", to: to, text: text})
}

func (m *mockSession) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	return m.record(sentItem{kind: "image", to: to, text: caption})
}

func (m *mockSession) SendDocument(ctx context.Context, to string, doc []byte, filename, mimetype string) error {
	return m.record(sentItem{kind: "document", to: to, filename: filename})
}

func (m *mockSession) SendReaction(ctx context.Context, to string, target domain.MessageRef, emoji string) error {
	return m.record(sentItem{kind: "reaction", to: to, text: emoji})
}

func (m *mockSession) sentItems() []sentItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentItem(nil), m.sent...)
}

// mockResolver implements Resolver for testing.
type mockResolver struct {
	mu      sync.Mutex
	result  *domain.FetchResult
	release chan struct{} // Resolve blocks until closed, if set
	onCall  func()
	calls   int
}

func (m *mockResolver) Resolve(ctx context.Context, name string) *domain.FetchResult {
	m.mu.Lock()
	m.calls++
	release := m.release
	onCall := m.onCall
	result := m.result
	m.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if release != nil {
		<-release
	}
	return result
}

func (m *mockResolver) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
