// Package enablement persists which plugins are enabled and pushes that list
// to the companion service.
//
// The whole map is stored as a single JSON object under one key:
//
//	{"http": true, "mock": false}
//
// Every failure is logged and absorbed. Load degrades to an empty map and
// Save and Sync never return errors to the caller.
package enablement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/devscope/internal/kv"
)

// DefaultKey is the storage key of the persisted enablement blob.
const DefaultKey = "devscope.plugins.enabled"

// DefaultSyncTimeout bounds a single Sync push.
const DefaultSyncTimeout = 5 * time.Second

// DefaultAllowList is the set of plugins enabled on a fresh installation.
var DefaultAllowList = []string{"http", "websocket", "logs", "performance"}

// PluginState is one entry of the list pushed to the companion service.
type PluginState struct {
	PluginID    string `json:"pluginId"`
	DisplayName string `json:"displayName"`
	IsEnabled   bool   `json:"isEnabled"`
}

// Syncer delivers the full plugin list to an external consumer.
type Syncer interface {
	Sync(ctx context.Context, states []PluginState) error
}

// SyncerFunc adapts a function to Syncer.
type SyncerFunc func(ctx context.Context, states []PluginState) error

// Sync implements Syncer.
func (f SyncerFunc) Sync(ctx context.Context, states []PluginState) error {
	return f(ctx, states)
}

// Store reads and writes the enablement map.
type Store struct {
	kv     kv.Store
	key    string
	logger *zap.Logger

	syncer      Syncer
	syncTimeout time.Duration
	syncing     sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSyncer sets the companion syncer. Without one, Sync is a no-op.
func WithSyncer(syncer Syncer) Option {
	return func(s *Store) {
		s.syncer = syncer
	}
}

// WithSyncTimeout bounds each Sync push.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// New creates a Store over the given kv backend.
func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:          backend,
		key:         DefaultKey,
		logger:      zap.NewNop(),
		syncTimeout: DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the storage key.
func (s *Store) Key() string {
	return s.key
}

// Backend returns the underlying kv store.
func (s *Store) Backend() kv.Store {
	return s.kv
}

// Load returns the persisted map. A missing, unreadable or corrupt blob is
// logged and reported as an empty map.
func (s *Store) Load(ctx context.Context) map[string]bool {
	state := make(map[string]bool)
	if s.kv == nil {
		return state
	}

	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("failed to load plugin enabled state", zap.String("key", s.key), zap.Error(err))
		}
		return state
	}

	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("discarding corrupt plugin enabled state",
			zap.String("key", s.key),
			zap.Error(fmt.Errorf("decode: %w", err)),
		)
		return make(map[string]bool)
	}
	if state == nil {
		// The blob was JSON null
		state = make(map[string]bool)
	}
	return state
}

// Save writes the full map. Failures are logged only.
func (s *Store) Save(ctx context.Context, state map[string]bool) {
	if s.kv == nil {
		return
	}

	if state == nil {
		state = map[string]bool{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		s.logger.Error("failed to encode plugin enabled state", zap.Error(err))
		return
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		s.logger.Error("failed to save plugin enabled state", zap.String("key", s.key), zap.Error(err))
	}
}

// Sync pushes states to the companion service in the background. It returns
// immediately; errors are logged and never retried.
func (s *Store) Sync(states []PluginState) {
	if s.syncer == nil {
		return
	}

	snapshot := make([]PluginState, len(states))
	copy(snapshot, states)

	s.syncing.Add(1)
	go func() {
		defer s.syncing.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.syncTimeout)
		defer cancel()

		if err := s.syncer.Sync(ctx, snapshot); err != nil {
			s.logger.Warn("plugin state sync failed", zap.Int("plugins", len(snapshot)), zap.Error(err))
			return
		}
		s.logger.Debug("plugin state synced", zap.Int("plugins", len(snapshot)))
	}()
}

// Wait blocks until in-flight syncs finish.
func (s *Store) Wait() {
	s.syncing.Wait()
}

// AllowList is a set of plugin IDs enabled by default.
type AllowList map[string]bool

// NewAllowList builds an AllowList from ids. A nil slice yields DefaultAllowList.
func NewAllowList(ids []string) AllowList {
	if ids == nil {
		ids = DefaultAllowList
	}
	list := make(AllowList, len(ids))
	for _, id := range ids {
		list[id] = true
	}
	return list
}

// Contains reports whether id is enabled by default.
func (a AllowList) Contains(id string) bool {
	return a[id]
}
