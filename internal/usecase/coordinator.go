package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apkdrop/apkdrop/internal/domain"
	"github.com/apkdrop/apkdrop/internal/reply"
)

// DefaultCacheTTL is how long a catalog lookup stays fresh.
const DefaultCacheTTL = 10 * time.Minute

// appIDPattern extracts a package identifier from a listing URL.
var appIDPattern = regexp.MustCompile(`id=([^&]+)`)

type cacheEntry struct {
	appID     string
	details   *domain.CatalogDetails
	fetchedAt time.Time
}

// Coordinator serializes lookups per query key and caches recent catalog
// results. At most one fetch runs per key; a concurrent second request for
// the same key fails fast with a busy result instead of queueing.
type Coordinator struct {
	catalog domain.Catalog
	worker  domain.FetchWorker
	fs      domain.FileSystemManager
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]struct{}
	cache map[string]cacheEntry
}

// NewCoordinator creates a lookup coordinator with the default cache TTL.
func NewCoordinator(
	catalog domain.Catalog,
	worker domain.FetchWorker,
	fs domain.FileSystemManager,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		catalog: catalog,
		worker:  worker,
		fs:      fs,
		logger:  logger,
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		locks:   make(map[string]struct{}),
		cache:   make(map[string]cacheEntry),
	}
}

// NewCoordinatorWithClock creates a coordinator with a custom TTL and clock (for testing).
func NewCoordinatorWithClock(
	catalog domain.Catalog,
	worker domain.FetchWorker,
	fs domain.FileSystemManager,
	ttl time.Duration,
	now func() time.Time,
	logger *zap.Logger,
) *Coordinator {
	c := NewCoordinator(catalog, worker, fs, logger)
	c.ttl = ttl
	c.now = now
	return c
}

// Resolve looks up an app by name and delegates the download to the fetch
// worker. Failures come back as a user-facing error payload on the result;
// Resolve never returns nil.
func (c *Coordinator) Resolve(ctx context.Context, name string) *domain.FetchResult {
	key := strings.ToLower(name)

	if !c.tryLock(key) {
		c.logger.Warn("download already in progress", zap.String("app", key))
		return &domain.FetchResult{Err: reply.ErrBusy}
	}
	defer c.unlock(key)

	if entry, ok := c.cachedFresh(key); ok {
		// Advisory only: the artifact itself is deleted after delivery,
		// so a fresh metadata entry cannot substitute for a fetch.
		c.logger.Info("using cached app data",
			zap.String("app", key),
			zap.String("app_id", entry.appID))
	}

	matches, err := c.catalog.Search(ctx, name)
	if err != nil {
		c.logger.Error("catalog search failed", zap.String("app", key), zap.Error(err))
		return &domain.FetchResult{Err: reply.ErrSearchFailed}
	}
	if len(matches) == 0 {
		return &domain.FetchResult{Err: reply.ErrNotFound}
	}

	match := matches[0]
	appID := extractAppID(match)
	if appID == "" {
		c.logger.Error("app id not found in search results", zap.String("app", key))
		return &domain.FetchResult{Err: reply.ErrNoAppID}
	}
	c.logger.Info("catalog match",
		zap.String("title", match.Title),
		zap.String("app_id", appID))

	details, err := c.catalog.Details(ctx, appID)
	if err != nil {
		c.logger.Error("catalog details failed", zap.String("app_id", appID), zap.Error(err))
		return &domain.FetchResult{Err: reply.ErrSearchFailed}
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{appID: appID, details: details, fetchedAt: c.now()}
	c.mu.Unlock()

	report, err := c.worker.Fetch(ctx, appID)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedOutput) {
			c.logger.Error("failed to parse worker output", zap.Error(err))
			return &domain.FetchResult{Err: reply.ErrBadData}
		}
		c.logger.Error("fetch worker failed", zap.String("app_id", appID), zap.Error(err))
		return &domain.FetchResult{Err: reply.ErrDownloadFailed}
	}
	if report.Err != "" {
		// Worker-reported errors are user-facing, propagate verbatim.
		return &domain.FetchResult{Err: report.Err}
	}

	size, err := c.fs.Size(report.FilePath)
	if err != nil {
		c.logger.Error("failed to stat downloaded file",
			zap.String("path", report.FilePath),
			zap.Error(err))
		return &domain.FetchResult{Err: reply.ErrBadData}
	}
	sizeMB := float64(size) / (1024 * 1024)

	sizeText := details.Size
	if sizeText == "" {
		sizeText = fmt.Sprintf("%.2fMB", sizeMB)
	}
	icon := details.Icon
	if icon == "" {
		icon = match.Icon
	}

	return &domain.FetchResult{
		Name:      details.Title,
		PackageID: appID,
		Version:   details.Version,
		Size:      sizeText,
		SizeMB:    sizeMB,
		Rating:    details.ScoreText,
		Icon:      icon,
		FilePath:  report.FilePath,
		Filename:  filepath.Base(report.FilePath),
		IsXAPK:    report.IsXAPK,
	}
}

// tryLock atomically acquires the per-key download lock.
func (c *Coordinator) tryLock(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return false
	}
	c.locks[key] = struct{}{}
	return true
}

func (c *Coordinator) unlock(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
}

// cachedFresh returns the cache entry for key if it is younger than the TTL.
// Staleness is checked at read time; entries are never actively evicted.
func (c *Coordinator) cachedFresh(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

// extractAppID pulls a stable package identifier from a search match:
// direct fields first, then the listing URL.
func extractAppID(match domain.CatalogMatch) string {
	if match.AppID != "" {
		return match.AppID
	}
	if match.ID != "" {
		return match.ID
	}
	if m := appIDPattern.FindStringSubmatch(match.URL); m != nil {
		return m[1]
	}
	return ""
}
