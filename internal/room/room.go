package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omgupta81/Smartbridge/internal/session"
	"github.com/omgupta81/Smartbridge/internal/store"
)

var (
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
)

// One live connection attached to a room
type Participant struct {
	ID       string
	Username string
	JoinedAt time.Time
}

// A collaborative editing session: the canonical per-room presence set and
// insertion-ordered file set. The server is the sole writer of this state;
// clients hold derived mirrors.
type Room struct {
	ID string

	mu           sync.Mutex
	participants []Participant
	order        []string
	files        map[string]session.File

	populateOnce sync.Once
}

// Creates a new, empty room with the given ID
func NewRoom(id string) *Room {
	return &Room{
		ID:    id,
		files: make(map[string]session.File),
	}
}

// Presence

// Join registers a connection under the room. Re-joining with the same
// connection id replaces the stale entry and moves it to the end of the
// join order. A blank display name defaults to "Anonymous".
func (r *Room) Join(connID, username string) []Participant {
	username = strings.TrimSpace(username)
	if username == "" {
		username = "Anonymous"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(connID)
	r.participants = append(r.participants, Participant{
		ID:       connID,
		Username: username,
		JoinedAt: time.Now(),
	})
	return r.snapshotLocked()
}

// Leave removes a connection from the room. Removing a connection that has
// already left is a no-op.
func (r *Room) Leave(connID string) (removed bool, snapshot []Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed = r.removeLocked(connID)
	return removed, r.snapshotLocked()
}

// Participants returns the current snapshot in join order.
func (r *Room) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) removeLocked(connID string) bool {
	for i, p := range r.participants {
		if p.ID == connID {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) snapshotLocked() []Participant {
	snapshot := make([]Participant, len(r.participants))
	copy(snapshot, r.participants)
	return snapshot
}

// File set

// CreateFile inserts a new file. The name must not already be present. An
// empty language tag is derived from the file's extension.
func (r *Room) CreateFile(f session.File) error {
	if f.Language == "" {
		f.Language = session.LanguageForName(f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[f.Name]; ok {
		return ErrFileExists
	}
	r.files[f.Name] = f
	r.order = append(r.order, f.Name)
	return nil
}

// DeleteFile removes a file by name.
func (r *Room) DeleteFile(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[name]; !ok {
		return ErrFileNotFound
	}
	delete(r.files, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// RenameFile moves a file to a new name, preserving content and language.
// The old name must be present and the new name must not be.
func (r *Room) RenameFile(oldName, newName string) (session.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[oldName]
	if !ok {
		return session.File{}, ErrFileNotFound
	}
	if _, ok := r.files[newName]; ok {
		return session.File{}, ErrFileExists
	}

	delete(r.files, oldName)
	f.Name = newName
	r.files[newName] = f
	for i, n := range r.order {
		if n == oldName {
			r.order[i] = newName
			break
		}
	}
	return f, nil
}

// SetContent replaces a file's content wholesale. Last writer wins: there is
// no merge and no conflict detection.
func (r *Room) SetContent(name, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return ErrFileNotFound
	}
	f.Content = content
	r.files[name] = f
	return nil
}

// Files returns the file set in insertion order.
func (r *Room) Files() []session.File {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := make([]session.File, 0, len(r.order))
	for _, name := range r.order {
		files = append(files, r.files[name])
	}
	return files
}

// FileCount returns the number of files in the room.
func (r *Room) FileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Populate seeds the file set exactly once per room, so concurrent first
// joins cannot race to create two different initial states. The fallback
// chain is attempted once, first success wins: the persisted multi-file
// record, then the persisted legacy single-code field materialized as one
// file, then a generated starter file.
func (r *Room) Populate(ctx context.Context, st store.Store) {
	r.populateOnce.Do(func() {
		seed := r.loadSeed(ctx, st)

		r.mu.Lock()
		defer r.mu.Unlock()
		for _, f := range seed {
			if _, ok := r.files[f.Name]; ok {
				continue
			}
			r.files[f.Name] = f
			r.order = append(r.order, f.Name)
		}
	})
}

func (r *Room) loadSeed(ctx context.Context, st store.Store) []session.File {
	log := logrus.WithField("room_id", r.ID)

	if st != nil {
		rec, err := st.Get(ctx, r.ID)
		switch {
		case err == nil && len(rec.Files) > 0:
			log.WithField("files", len(rec.Files)).Debug("Room populated from persisted file list")
			return rec.Files
		case err == nil:
			log.Debug("Room populated from legacy code field")
			return []session.File{session.LegacyFile(rec.Name, rec.Code)}
		case errors.Is(err, store.ErrNotFound):
			// fall through to the starter file
		default:
			log.WithError(err).Warn("Failed to load persisted session, seeding starter file")
		}
	}

	return []session.File{session.StarterFile()}
}
