package den

import (
	"path/filepath"
	"sync"
)

// Manager hands out at most one Env per canonical path. The engines
// underneath forbid opening the same environment twice within a process, so
// any code that cannot prove it is the path's sole opener should go through a
// Manager instead of calling New.
//
// Paths are canonicalized (absolute, symlinks resolved) before lookup, so
// two spellings of the same directory share one Env.
type Manager struct {
	mu   sync.Mutex
	envs map[string]*Env
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{envs: make(map[string]*Env)}
}

var singleton = NewManager()

// Singleton returns the process-wide Manager.
func Singleton() *Manager { return singleton }

// canonical resolves path to its canonical form. Symlink resolution is best
// effort: a path that does not exist yet (MakeDirIfNeeded opens are allowed)
// falls back to the cleaned absolute path.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// GetOrCreate returns the Env open at path, creating it with factory on
// first use. The factory runs under the Manager's lock, so it is invoked at
// most once per path no matter how many goroutines race here; a factory
// error is returned without caching anything.
func (m *Manager) GetOrCreate(path string, factory func(string) (*Env, error)) (*Env, error) {
	canon, err := canonical(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if env, ok := m.envs[canon]; ok {
		return env, nil
	}
	env, err := factory(canon)
	if err != nil {
		return nil, err
	}
	m.envs[canon] = env
	return env, nil
}

// Get returns the Env open at path, or nil when none is.
func (m *Manager) Get(path string) (*Env, error) {
	canon, err := canonical(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.envs[canon], nil
}

// CloseAndRemove closes the Env open at path and forgets it, so a later
// GetOrCreate reopens fresh. A path with no open Env is a no-op.
func (m *Manager) CloseAndRemove(path string) error {
	canon, err := canonical(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	env, ok := m.envs[canon]
	delete(m.envs, canon)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return env.Close()
}

// CloseAll closes every open Env and empties the Manager. The first close
// error is returned, but every Env is closed regardless.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	envs := m.envs
	m.envs = make(map[string]*Env)
	m.mu.Unlock()
	var first error
	for _, env := range envs {
		if err := env.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
