package session

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/vdstream/depthstream/decoder"
)

// defaultDataRoot is the data root ClearCache treats as safe to wipe
// without an explicit override.
const defaultDataRoot = "tmp/sessions"

// ManagerConfig carries the process-wide knobs the manager needs to create
// sessions: where uploads live on disk, how many decoders to open per
// session, the depth cache capacity, and the default per-session Config.
type ManagerConfig struct {
	DataRoot      string
	PoolSize      int
	CacheCapacity int
	Session       Config

	// ClearCacheOverride lets ClearCache wipe a non-default DataRoot. See
	// ClearCache for why this guard exists.
	ClearCacheOverride bool
}

// Manager tracks the set of live sessions by id. Only the manager mutates
// the session map; sessions themselves own their decoder pool, cache, and
// telemetry exclusively.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a session manager rooted at cfg.DataRoot.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 16
	}
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

// CreateSession writes source to {data_root}/{session_id}/source.mp4, opens
// a decoder pool over it, probes its metadata, and registers the session.
//
// It calls ClearCache first: this server keeps one active upload at a time,
// the same single-active-session model the reference implementation uses.
// When ClearCache's data-root guard skips the cleanup, existing sessions are
// left in place.
func (m *Manager) CreateSession(source io.Reader) (*Session, error) {
	if err := m.ClearCache(); err != nil {
		return nil, fmt.Errorf("session: clear cache before create: %w", err)
	}

	id := uuid.New().String()
	sessionDir := filepath.Join(m.cfg.DataRoot, id)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create session directory: %w", err)
	}

	target := filepath.Join(sessionDir, "source.mp4")
	if err := writeSource(target, source); err != nil {
		os.RemoveAll(sessionDir)
		return nil, err
	}

	pool, err := decoder.OpenPool(target, m.cfg.PoolSize)
	if err != nil {
		os.RemoveAll(sessionDir)
		return nil, fmt.Errorf("session: open decoder pool: %w", err)
	}

	meta := pool.Metadata()
	s := New(id, target, meta, pool, m.cfg.Session, m.cfg.CacheCapacity)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

func writeSource(target string, source io.Reader) error {
	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("session: create %s: %w", target, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, source); err != nil {
		return fmt.Errorf("session: write %s: %w", target, err)
	}
	return nil
}

// Register inserts an already-constructed session into the manager. Mainly
// useful for fixtures and tests that build a session around
// decoder.OpenMemoryPool rather than a real upload.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Get looks up a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// DeleteSession closes the session's decoder pool, removes its files, and
// drops it from the manager. It is a no-op (no error) if id is unknown;
// callers distinguish "unknown" via Get for the 404 case.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.destroy(s)
}

// ClearCache destroys every live session (decoder pools closed, files
// removed) and empties the manager. Used on process start and by the
// "global cache clear" path described in the data model.
//
// If DataRoot isn't the default tmp/sessions, ClearCache refuses to touch
// it unless ClearCacheOverride is set, to avoid a misconfigured data root
// wiping an unrelated directory tree.
func (m *Manager) ClearCache() error {
	resolved, err := filepath.Abs(m.cfg.DataRoot)
	if err != nil {
		return fmt.Errorf("session: resolve data root: %w", err)
	}
	defaultResolved, err := filepath.Abs(defaultDataRoot)
	if err != nil {
		return fmt.Errorf("session: resolve default data root: %w", err)
	}
	if resolved != defaultResolved && !m.cfg.ClearCacheOverride {
		log.Printf("session: skipping cache cleanup for data_root=%s (set VIDEO_DEPTH_CLEAR_CACHE=1 to override)", resolved)
		return nil
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := m.destroy(s); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return first
	}
	return os.RemoveAll(m.cfg.DataRoot)
}

func (m *Manager) destroy(s *Session) error {
	closeErr := s.Close()
	if s.SourcePath == "" {
		// Registered without an upload (e.g. around decoder.OpenMemoryPool):
		// there are no files to remove.
		return closeErr
	}
	if err := os.RemoveAll(filepath.Dir(s.SourcePath)); err != nil {
		return fmt.Errorf("session: remove session directory: %w", err)
	}
	return closeErr
}

// Sessions returns a snapshot slice of every live session, used by the
// entrypoint's graceful-shutdown path.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
