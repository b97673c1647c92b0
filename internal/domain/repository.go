package domain

import "context"

// Transport wraps one instance of the messaging client.
// A new instance is created per connection attempt; its event channel is
// abandoned when the instance is discarded, so handlers subscribed on a
// previous instance can never fire into the current session.
type Transport interface {
	// Connect opens the link. Link state changes arrive on Events.
	Connect(ctx context.Context) error

	// Disconnect tears the link down and closes the event channel.
	Disconnect()

	// Events delivers connection and message events for this instance only.
	Events() <-chan TransportEvent

	// Registered reports whether stored credentials are paired with the backend.
	Registered() bool

	// RequestPairingCode asks the backend for a one-time pairing code.
	RequestPairingCode(ctx context.Context, phoneDigits string) (string, error)

	SendText(ctx context.Context, to string, text string) error
	SendImage(ctx context.Context, to string, image []byte, caption string) error
	SendDocument(ctx context.Context, to string, doc []byte, filename, mimetype string) error
	SendReaction(ctx context.Context, to string, target MessageRef, emoji string) error
}

// TransportEvent is either a connection update or an inbound message.
type TransportEvent struct {
	Connection *ConnectionEvent
	Message    *InboundMessage
}

// TransportFactory builds a fresh transport instance, loading session
// credentials and negotiating the protocol version as a side effect.
type TransportFactory interface {
	New(ctx context.Context) (Transport, error)
}

// Catalog resolves a human-readable name to package metadata.
// Implementation: HTTP client against the catalog lookup service.
type Catalog interface {
	// Search returns the top matches for a term, best first.
	Search(ctx context.Context, term string) ([]CatalogMatch, error)

	// Details fetches the full record for an app id.
	Details(ctx context.Context, appID string) (*CatalogDetails, error)

	// FetchIcon downloads an icon image by URL.
	FetchIcon(ctx context.Context, url string) ([]byte, error)
}

// FetchWorker performs the binary retrieval for a package id.
// Implementation: isolated subprocess speaking the JSON-line contract.
type FetchWorker interface {
	Fetch(ctx context.Context, appID string) (*WorkerReport, error)
}

// FileSystemManager handles filesystem operations.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// Delete removes a file.
	Delete(path string) error

	// Read returns the file contents.
	Read(path string) ([]byte, error)

	// Size returns the size of a file in bytes.
	Size(path string) (int64, error)

	// EnsureDir creates a directory (and parents) if absent.
	EnsureDir(path string) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// RunRegistry persists the running process info for the status command.
type RunRegistry interface {
	Register(info RunInfo) error
	Load() (*RunInfo, error)
	Clear() error
}
