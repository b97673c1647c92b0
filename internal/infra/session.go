package infra

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	// Registers the SQLCipher-enabled "sqlite3" driver.
	_ "github.com/mutecomm/go-sqlcipher/v4"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	sessionDBName  = "session.db"
	sessionKeyName = ".session.key"
	sessionKeySize = 32 // 256-bit SQLCipher key
)

// OpenSessionContainer opens (or creates) the encrypted credential store
// under dataDir. Credentials are kept in a SQLCipher database; the key
// lives next to it in a hidden file with 0600 permissions.
func OpenSessionContainer(ctx context.Context, dataDir string) (*sqlstore.Container, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	key, err := loadOrCreateSessionKey(filepath.Join(dataDir, sessionKeyName))
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, sessionDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_foreign_keys=on",
		dbPath, hex.EncodeToString(key))

	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return container, nil
}

// loadOrCreateSessionKey reads the SQLCipher key, generating one on first run.
func loadOrCreateSessionKey(keyPath string) ([]byte, error) {
	encoded, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to decode session key: %w", err)
		}
		if len(key) != sessionKeySize {
			return nil, fmt.Errorf("invalid session key size: got %d, want %d", len(key), sessionKeySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read session key: %w", err)
	}

	key := make([]byte, sessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	out := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyPath, []byte(out), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write session key: %w", err)
	}
	return key, nil
}
