// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// ConnectionState tracks where the session is in its lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StatePairing      ConnectionState = "pairing"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateTerminated   ConnectionState = "terminated"
)

// ConnectionSignal is what the transport reports about its link.
type ConnectionSignal string

const (
	SignalConnecting ConnectionSignal = "connecting"
	SignalOpen       ConnectionSignal = "open"
	SignalClose      ConnectionSignal = "close"
)

// CloseReason classifies why the transport link closed.
type CloseReason string

const (
	// CloseTransient covers network and protocol closures that warrant a retry.
	CloseTransient CloseReason = "transient"
	// CloseLoggedOut means the backend invalidated the session.
	CloseLoggedOut CloseReason = "logged-out"
)

// ConnectionEvent is emitted by the transport when the link state changes.
type ConnectionEvent struct {
	Signal ConnectionSignal
	Reason CloseReason // set when Signal == SignalClose
}

// MessageKind classifies an inbound message payload.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindUnsupported MessageKind = "unsupported"
)

// MessageRef identifies a delivered message so a reaction can target it.
type MessageRef struct {
	Chat   string
	Sender string
	ID     string
	FromMe bool
}

// InboundMessage is a single message event from the transport.
type InboundMessage struct {
	ID         string // unique event id, dedup key
	Chat       string // conversation the message arrived in (reply target)
	Sender     string
	FromSelf   bool
	HasPayload bool
	Kind       MessageKind
	Text       string
	Ref        MessageRef // for reactions tied to this message
}

// CatalogMatch is one search hit from the catalog service.
type CatalogMatch struct {
	AppID string `json:"app_id"`
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Icon  string `json:"icon"`
}

// CatalogDetails is the full record for one catalog entry.
type CatalogDetails struct {
	Title     string `json:"title"`
	Version   string `json:"version"`
	Size      string `json:"size"`
	ScoreText string `json:"score_text"`
	Icon      string `json:"icon"`
}

// WorkerReport is the structured result printed by the fetch worker
// as the final line of its standard output.
type WorkerReport struct {
	FilePath string `json:"file_path"`
	IsXAPK   bool   `json:"is_xapk"`
	Err      string `json:"error"`
}

// FetchResult is the outcome of resolving one app request.
// Exactly one of Err or the success fields is meaningful.
type FetchResult struct {
	Err string // user-facing failure text; empty on success

	Name      string
	PackageID string
	Version   string
	Size      string
	SizeMB    float64
	Rating    string
	Icon      string // icon URL, may be empty
	FilePath  string
	Filename  string
	IsXAPK    bool
}

// Failed reports whether the result carries an error payload.
func (r *FetchResult) Failed() bool {
	return r.Err != ""
}

// RunInfo stores the running bot process for the status command.
// Persisted to a JSON file for cross-process discovery.
type RunInfo struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	AppVersion string    `json:"app_version,omitempty"`
}
