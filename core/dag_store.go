// core/dag_store.go
package core

// DAG content store — job specs, bids, assignments and receipts are all
// content-addressed blocks keyed by CID. Thread-safe, with an on-disk LRU
// cache in front of a durable backend, mirroring the cache/gateway split the
// original storage wrapper used for its IPFS gateway.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	logrus "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

const defaultCacheEntries = 10_000

// -----------------------------------------------------------------------------
// LRU on-disk cache
// -----------------------------------------------------------------------------

type diskEntry struct {
	path string
	size int64
	at   time.Time
}

type diskLRU struct {
	mu    sync.Mutex
	dir   string
	max   int
	index map[string]*diskEntry
	order []*diskEntry
}

func newDiskLRU(dir string, maxEntries int) (*diskLRU, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskLRU{
		dir:   dir,
		max:   maxEntries,
		index: make(map[string]*diskEntry),
	}, nil
}

func (l *diskLRU) put(key string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.index[key]; ok {
		ent.at = time.Now()
		l.touch(ent)
		return nil
	}

	if len(l.index) >= l.max && len(l.order) > 0 {
		oldest := l.order[0]
		_ = os.Remove(oldest.path)
		delete(l.index, filepath.Base(oldest.path))
		l.order = l.order[1:]
	}

	p := filepath.Join(l.dir, key)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	ent := &diskEntry{path: p, size: int64(len(data)), at: time.Now()}
	l.index[key] = ent
	l.order = append(l.order, ent)
	return nil
}

func (l *diskLRU) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent, ok := l.index[key]
	if !ok {
		return nil, false
	}
	ent.at = time.Now()
	l.touch(ent)

	b, err := os.ReadFile(ent.path)
	if err != nil {
		return nil, false
	}
	return b, true
}

// touch moves ent to the most-recently-used end of l.order, so eviction
// (which takes l.order[0]) removes the least recently used entry.
func (l *diskLRU) touch(ent *diskEntry) {
	for i, e := range l.order {
		if e == ent {
			copy(l.order[i:], l.order[i+1:])
			l.order[len(l.order)-1] = ent
			return
		}
	}
}

// -----------------------------------------------------------------------------
// DAGBackend — durable block storage
// -----------------------------------------------------------------------------

// DAGBackend is the durability contract a DAG store is layered on top of.
// MemoryBackend is for tests; FileBackend persists each block as a file
// under a root directory, named by CID.
type DAGBackend interface {
	Put(ctx context.Context, c cid.Cid, data []byte) error
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
	Has(ctx context.Context, c cid.Cid) (bool, error)
	Delete(ctx context.Context, c cid.Cid) error
}

type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Put(_ context.Context, c cid.Cid, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[c.String()] = data
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[c.String()]
	if !ok {
		return nil, ErrBlockNotFound
	}
	return d, nil
}

func (m *MemoryBackend) Has(_ context.Context, c cid.Cid) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[c.String()]
	return ok, nil
}

func (m *MemoryBackend) Delete(_ context.Context, c cid.Cid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, c.String())
	return nil
}

// FileBackend persists each block as an individual file under Dir, named by
// its CID string. Writes go through a temp file + rename for crash safety.
type FileBackend struct {
	Dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{Dir: dir}, nil
}

func (f *FileBackend) path(c cid.Cid) string {
	return filepath.Join(f.Dir, c.String())
}

func (f *FileBackend) Put(_ context.Context, c cid.Cid, data []byte) error {
	p := f.path(c)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (f *FileBackend) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	b, err := os.ReadFile(f.path(c))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlockNotFound
	}
	return b, err
}

func (f *FileBackend) Has(_ context.Context, c cid.Cid) (bool, error) {
	_, err := os.Stat(f.path(c))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileBackend) Delete(_ context.Context, c cid.Cid) error {
	err := os.Remove(f.path(c))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

var ErrBlockNotFound = errors.New("dag: block not found")

// -----------------------------------------------------------------------------
// Store — cache-fronted DAG store with pin/TTL bookkeeping
// -----------------------------------------------------------------------------

// StoreConfig configures a Store instance.
type StoreConfig struct {
	CacheDir         string
	CacheSizeEntries int
	PinTTL           time.Duration
}

// Store wraps a DAGBackend with an on-disk LRU cache and pin bookkeeping so
// job-referenced blocks survive prune sweeps while transient ones expire.
type Store struct {
	logger  *logrus.Logger
	backend DAGBackend
	cache   *diskLRU

	mu      sync.Mutex
	pinned  map[string]time.Time // cid string -> expiry; zero = pinned forever
	anchors []cid.Cid            // receipt CIDs anchored for Root()
}

// NewStore wires a Store over the given backend.
func NewStore(cfg StoreConfig, backend DAGBackend, lg *logrus.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("dag store: backend nil")
	}
	cache, err := newDiskLRU(cfg.CacheDir, cfg.CacheSizeEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	s := &Store{
		logger:  lg,
		backend: backend,
		cache:   cache,
		pinned:  make(map[string]time.Time),
	}
	lg.WithField("cache_dir", cfg.CacheDir).Info("dag store initialised")
	return s, nil
}

// SumCID computes the canonical CIDv1/raw/blake3 identifier for data. The
// digest is computed directly with lukechampine.com/blake3 (go-multihash has
// no built-in BLAKE3 hasher) and wrapped as a multihash via mh.Encode, which
// only packages an already-computed digest and does not require one.
func SumCID(data []byte) (cid.Cid, error) {
	sum := blake3.Sum256(data)
	digest, err := mh.Encode(sum[:], mh.BLAKE3)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, digest), nil
}

// Put stores data, returning its CID, which is computed locally with
// SumCID. A block already present in the cache is not written to the
// backend again.
func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := SumCID(data)
	if err != nil {
		return cid.Undef, err
	}
	if _, ok := s.cache.get(c.String()); ok {
		return c, nil
	}
	if err := s.backend.Put(ctx, c, data); err != nil {
		return cid.Undef, err
	}
	_ = s.cache.put(c.String(), data)
	s.logger.WithField("cid", c.String()).Debug("dag block stored")
	return c, nil
}

// Get retrieves data for c, checking cache before falling through to the
// backend. Data is returned only if its recomputed CID equals c; a cached
// copy that fails this check is skipped, and backend data that fails it is
// an integrity error.
func (s *Store) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	if b, ok := s.cache.get(c.String()); ok {
		if got, err := SumCID(b); err == nil && got.Equals(c) {
			return b, nil
		}
	}
	data, err := s.backend.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	if got, err := SumCID(data); err != nil || !got.Equals(c) {
		return nil, fmt.Errorf("dag store: integrity check failed for %s", c)
	}
	_ = s.cache.put(c.String(), data)
	return data, nil
}

// Has reports whether c is resolvable without fetching its data.
func (s *Store) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if _, ok := s.cache.get(c.String()); ok {
		return true, nil
	}
	return s.backend.Has(ctx, c)
}

// Pin marks c as non-prunable until ttl elapses (zero ttl pins forever).
func (s *Store) Pin(c cid.Cid, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		s.pinned[c.String()] = time.Time{}
		return
	}
	s.pinned[c.String()] = time.Now().Add(ttl)
}

// Unpin removes any pin bookkeeping for c.
func (s *Store) Unpin(c cid.Cid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pinned, c.String())
}

// Anchor records c (a receipt CID, by convention) for inclusion in Root().
func (s *Store) Anchor(c cid.Cid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors = append(s.anchors, c)
}

// Root computes a deterministic Merkle-style digest over every anchored
// receipt CID, in anchor order, giving callers a single value to compare
// when auditing which receipts a node has observed.
func (s *Store) Root() (cid.Cid, error) {
	s.mu.Lock()
	anchors := make([]cid.Cid, len(s.anchors))
	copy(anchors, s.anchors)
	s.mu.Unlock()

	if len(anchors) == 0 {
		return cid.Undef, nil
	}
	var buf []byte
	for _, a := range anchors {
		buf = append(buf, a.Bytes()...)
	}
	return SumCID(buf)
}

// Prune deletes from the backend every block whose timed pin has expired
// and drops its pin record. Blocks pinned forever, and blocks that were
// never pinned, are left in place. It is intended to be called periodically
// by the node's maintenance loop.
func (s *Store) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	now := time.Now()
	var dead []string
	for k, exp := range s.pinned {
		if exp.IsZero() {
			continue // pinned forever
		}
		if now.After(exp) {
			dead = append(dead, k)
		}
	}
	for _, k := range dead {
		delete(s.pinned, k)
	}
	s.mu.Unlock()

	count := 0
	for _, k := range dead {
		c, err := cid.Decode(k)
		if err != nil {
			continue
		}
		if err := s.backend.Delete(ctx, c); err == nil {
			count++
		}
	}
	if count > 0 {
		s.logger.WithField("count", count).Info("dag store pruned expired blocks")
	}
	return count, nil
}
