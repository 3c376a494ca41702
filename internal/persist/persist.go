package persist

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omgupta81/Smartbridge/internal/session"
	"github.com/omgupta81/Smartbridge/internal/store"
)

const writeTimeout = 10 * time.Second

// Persister is the write-behind path between the in-memory room state and
// the session store. Writes are fire-and-forget from the caller's point of
// view: a mutation enqueues the room's latest snapshot and returns. One
// writer goroutine per room keeps persisted state in order under rapid
// edits; queued snapshots coalesce so only the newest is written. Failures
// are logged and otherwise ignored — the in-memory state stays authoritative.
type Persister struct {
	store store.Store

	mu      sync.Mutex
	writers map[string]*roomWriter
	stopped bool
	wg      sync.WaitGroup
}

type roomWriter struct {
	mu    sync.Mutex
	files []session.File
	dirty bool
	code  *string
	chat  []session.ChatEntry

	kick chan struct{}
	stop chan struct{}
}

func New(st store.Store) *Persister {
	return &Persister{
		store:   st,
		writers: make(map[string]*roomWriter),
	}
}

// QueueFiles schedules the room's full file list for persistence, replacing
// any snapshot still waiting to be written.
func (p *Persister) QueueFiles(roomID string, files []session.File) {
	w := p.writer(roomID)
	if w == nil {
		return
	}

	w.mu.Lock()
	w.files = files
	w.dirty = true
	w.mu.Unlock()

	w.wake()
}

// QueueCode schedules a legacy single-code write.
func (p *Persister) QueueCode(roomID, code string) {
	w := p.writer(roomID)
	if w == nil {
		return
	}

	w.mu.Lock()
	w.code = &code
	w.mu.Unlock()

	w.wake()
}

// QueueChat appends a chat entry to the room's history, best effort.
func (p *Persister) QueueChat(roomID string, entry session.ChatEntry) {
	w := p.writer(roomID)
	if w == nil {
		return
	}

	w.mu.Lock()
	w.chat = append(w.chat, entry)
	w.mu.Unlock()

	w.wake()
}

// Stop flushes pending writes and waits for the writers to exit.
func (p *Persister) Stop() {
	p.mu.Lock()
	p.stopped = true
	writers := make([]*roomWriter, 0, len(p.writers))
	for _, w := range p.writers {
		writers = append(writers, w)
	}
	p.mu.Unlock()

	for _, w := range writers {
		close(w.stop)
	}
	p.wg.Wait()
}

func (p *Persister) writer(roomID string) *roomWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	if w, ok := p.writers[roomID]; ok {
		return w
	}

	w := &roomWriter{
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	p.writers[roomID] = w

	p.wg.Add(1)
	go p.run(roomID, w)
	return w
}

func (w *roomWriter) wake() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (p *Persister) run(roomID string, w *roomWriter) {
	defer p.wg.Done()

	for {
		select {
		case <-w.kick:
			p.flush(roomID, w)
		case <-w.stop:
			p.flush(roomID, w)
			return
		}
	}
}

func (p *Persister) flush(roomID string, w *roomWriter) {
	w.mu.Lock()
	files, dirty := w.files, w.dirty
	code := w.code
	chat := w.chat
	w.files, w.dirty = nil, false
	w.code = nil
	w.chat = nil
	w.mu.Unlock()

	if !dirty && code == nil && len(chat) == 0 {
		return
	}

	log := logrus.WithField("room_id", roomID)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if dirty {
		if err := p.store.ReplaceFiles(ctx, roomID, files); err != nil {
			log.WithError(err).Warn("Failed to persist file list")
		}
	} else if code != nil {
		if err := p.store.SaveCode(ctx, roomID, *code); err != nil {
			log.WithError(err).Warn("Failed to persist legacy code")
		}
	}

	for _, entry := range chat {
		if err := p.store.AppendChat(ctx, roomID, entry); err != nil {
			log.WithError(err).Warn("Failed to persist chat entry")
			break
		}
	}
}
