package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// configFile is one on-disk kubeconfig materialization, shared by every
// handle issued for it plus the pool's own reference. The last release
// unlinks the file.
type configFile struct {
	fs   afero.Fs
	path string
	refs atomic.Int32
}

func (f *configFile) retain() {
	f.refs.Add(1)
}

func (f *configFile) release() {
	if f.refs.Add(-1) == 0 {
		_ = f.fs.Remove(f.path)
	}
}

// ConfigHandle is a shared reference to a cluster's materialized kubeconfig
// file. The path stays valid until Release; contents never change for the
// handle's lifetime. Non-supervisor code must not retain the path beyond
// the handle.
type ConfigHandle struct {
	file *configFile
	once sync.Once
}

// Path returns the kubeconfig file path, suitable for a child process
// environment or --kubeconfig flag.
func (h *ConfigHandle) Path() string {
	return h.file.path
}

// Release drops this handle's reference. Idempotent. The file is unlinked
// once the pool and all holders have released.
func (h *ConfigHandle) Release() {
	h.once.Do(h.file.release)
}

// configPool keeps at most one live materialization per cluster ID. The pool
// itself holds one reference per entry; acquire adds one per caller.
type configPool struct {
	fs     afero.Fs
	dir    string
	flight singleflight.Group

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	file     *configFile
	expireAt time.Time
}

func newConfigPool(fs afero.Fs, dir string) (*configPool, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating kubeconfig directory %s: %w", dir, err)
	}
	return &configPool{
		fs:      fs,
		dir:     dir,
		entries: make(map[string]*poolEntry),
	}, nil
}

// acquire returns a handle for the cluster's kubeconfig, materializing it
// via content when no live entry exists. The bool reports a cache hit.
// Concurrent acquires for the same cluster share one materialization.
func (p *configPool) acquire(clusterID string, now time.Time, ttl time.Duration, content func() (string, error)) (*ConfigHandle, bool, error) {
	hit := true
	for {
		p.mu.Lock()
		if e, ok := p.entries[clusterID]; ok && now.Before(e.expireAt) {
			e.file.retain()
			p.mu.Unlock()
			return &ConfigHandle{file: e.file}, hit, nil
		}
		p.mu.Unlock()
		hit = false

		_, err, _ := p.flight.Do(clusterID, func() (any, error) {
			text, err := content()
			if err != nil {
				return nil, err
			}
			path := filepath.Join(p.dir, configFileName(clusterID))
			if err := afero.WriteFile(p.fs, path, []byte(text), 0o600); err != nil {
				return nil, fmt.Errorf("materializing kubeconfig for %s: %w", clusterID, err)
			}
			file := &configFile{fs: p.fs, path: path}
			file.retain()

			p.mu.Lock()
			old := p.entries[clusterID]
			p.entries[clusterID] = &poolEntry{file: file, expireAt: now.Add(ttl)}
			p.mu.Unlock()
			if old != nil {
				old.file.release()
			}
			return nil, nil
		})
		if err != nil {
			return nil, false, err
		}
		// Loop: the entry installed by the flight satisfies the next pass
		// unless it was invalidated in the meantime.
	}
}

// invalidate drops the pool's entry for the cluster. Outstanding handles
// stay valid; the file disappears when the last one releases.
func (p *configPool) invalidate(clusterID string) bool {
	p.mu.Lock()
	e, ok := p.entries[clusterID]
	delete(p.entries, clusterID)
	p.mu.Unlock()
	if ok {
		e.file.release()
	}
	return ok
}

// close releases every pooled entry.
func (p *configPool) close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()
	for _, e := range entries {
		e.file.release()
	}
}

func configFileName(clusterID string) string {
	var suffix [6]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%s_%s.yaml", clusterID, hex.EncodeToString(suffix[:]))
}
