package client

import (
	"sync"

	"github.com/omgupta81/Smartbridge/internal/session"
)

// Origin tags every mirror mutation with where it came from. Only locally
// originated mutations are re-broadcast; remotely applied ones never are,
// which breaks the feedback loop without relying on suppression timers.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// Mirror is the client's derived copy of the room's file set. The server
// remains the sole writer of the canonical state; the mirror applies local
// edits optimistically and reconciles on every remote delta.
type Mirror struct {
	mu     sync.Mutex
	order  []string
	files  map[string]session.File
	active string
}

func NewMirror() *Mirror {
	return &Mirror{
		files: make(map[string]session.File),
	}
}

// Replace swaps the whole mirror for a full snapshot, resetting the active
// file to the first entry.
func (m *Mirror) Replace(files []session.File) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order = m.order[:0]
	m.files = make(map[string]session.File, len(files))
	m.active = ""
	for _, f := range files {
		if f.Name == "" {
			continue
		}
		if _, ok := m.files[f.Name]; ok {
			continue
		}
		if f.Language == "" {
			f.Language = session.LanguageForName(f.Name)
		}
		m.files[f.Name] = f
		m.order = append(m.order, f.Name)
	}
	if len(m.order) > 0 {
		m.active = m.order[0]
	}
}

// Add inserts a file. The first file added becomes active.
func (m *Mirror) Add(f session.File) bool {
	if f.Name == "" {
		return false
	}
	if f.Language == "" {
		f.Language = session.LanguageForName(f.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[f.Name]; ok {
		return false
	}
	m.files[f.Name] = f
	m.order = append(m.order, f.Name)
	if m.active == "" {
		m.active = f.Name
	}
	return true
}

// Delete removes a file. Deleting the active file falls back to the first
// remaining file by iteration order.
func (m *Mirror) Delete(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[name]; !ok {
		return false
	}
	delete(m.files, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.active == name {
		m.active = ""
		if len(m.order) > 0 {
			m.active = m.order[0]
		}
	}
	return true
}

// Rename moves a file to a new name, preserving its in-flight content and
// language. The active file follows the rename.
func (m *Mirror) Rename(oldName, newName string) bool {
	if newName == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[oldName]
	if !ok {
		return false
	}
	if _, ok := m.files[newName]; ok {
		return false
	}

	delete(m.files, oldName)
	f.Name = newName
	m.files[newName] = f
	for i, n := range m.order {
		if n == oldName {
			m.order[i] = newName
			break
		}
	}
	if m.active == oldName {
		m.active = newName
	}
	return true
}

// SetContent replaces a file's content. Returns false when the file is
// missing or already holds that exact content, so an echoed change-
// notification for an applied remote delta is recognized as synthetic.
func (m *Mirror) SetContent(name, content string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[name]
	if !ok {
		return false
	}
	if f.Content == content {
		return false
	}
	f.Content = content
	m.files[name] = f
	return true
}

func (m *Mirror) Get(name string) (session.File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[name]
	return f, ok
}

func (m *Mirror) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok
}

// Files returns the mirrored set in insertion order.
func (m *Mirror) Files() []session.File {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := make([]session.File, 0, len(m.order))
	for _, name := range m.order {
		files = append(files, m.files[name])
	}
	return files
}

func (m *Mirror) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// SetActive switches the active file. Missing files are rejected.
func (m *Mirror) SetActive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[name]; !ok {
		return false
	}
	m.active = name
	return true
}

func (m *Mirror) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
