package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oneconcern/ephemeralcache/internal/dlogger"
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/store"
)

// Config is the session's tunable surface (§4.5).
type Config struct {
	// PutCacheTimeToLive is the elision TTL applied after a successful put
	// or a confirmed ExistsElsewhere (§4.3).
	PutCacheTimeToLive time.Duration

	// Workspace is carried in the configuration but not read by Session:
	// OpenStream's delete-on-close temp files are created under
	// EphemeralHost.Workspace.
	Workspace string
}

// DefaultConfig matches §6's named defaults.
func DefaultConfig() Config {
	return Config{
		PutCacheTimeToLive: 10 * time.Minute,
	}
}

// Session is the three-tier ephemeral content cache session (C6, §4.5):
// Pin/PlaceFile/PutFile/PutStream/OpenStream layered over a local store, a
// datacenter peer tier reached through the host's copy engine, and a
// persistent backing store.
//
// Grounded on the teacher's context.Stores aggregate (pkg/context/context.go)
// for the shape of a struct that layers several storage backends behind one
// API, and on cafs.Fs's functional-options constructor (pkg/cafs/cafs.go).
type Session struct {
	local      store.LocalStore
	persistent store.Store
	host       *EphemeralHost
	logger     *zap.Logger
	cfg        Config
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(logger *zap.Logger) Option { return func(s *Session) { s.logger = logger } }

func WithConfig(cfg Config) Option { return func(s *Session) { s.cfg = cfg } }

// New builds a Session over a local and a persistent store, sharing host.
func New(local store.LocalStore, persistent store.Store, host *EphemeralHost, opts ...Option) *Session {
	s := &Session{
		local:      local,
		persistent: persistent,
		host:       host,
		logger:     dlogger.MustGetLogger("info"),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pin forwards directly to the persistent store (§4.5: "forwarded directly
// to the persistent store; the local store is assumed too small to
// authoritatively pin build content").
func (s *Session) Pin(ctx context.Context, hash contenthash.ContentHash) error {
	return s.persistent.Pin(ctx, hash)
}

// PinBulk is Pin for a batch of hashes, forwarded unchanged.
func (s *Session) PinBulk(ctx context.Context, hashes []contenthash.ContentHash) error {
	return s.persistent.PinBulk(ctx, hashes)
}
