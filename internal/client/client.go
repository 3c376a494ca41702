package client

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omgupta81/Smartbridge/internal/protocol"
	"github.com/omgupta81/Smartbridge/internal/session"
	"github.com/omgupta81/Smartbridge/internal/ttlset"
)

const (
	// Window in which a re-send of the exact same chat text is dropped
	chatResendWindow = 250 * time.Millisecond

	// Lifetime of a sent correlation id; after this a duplicate is no
	// longer suppressed
	cidTTL = 8 * time.Second
)

var (
	ErrFileExists   = errors.New("file already exists")
	ErrFileNotFound = errors.New("file not found")
	ErrLastFile     = errors.New("at least one file must remain")
)

// Connection state of the reconciliation layer
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateActive
	StateRejoining
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateRejoining:
		return "rejoining"
	default:
		return "disconnected"
	}
}

// Transport sends named events toward the server.
type Transport interface {
	Emit(event string, data interface{}) error
}

// Editor is the text-editing widget, treated as an opaque collaborator: it
// accepts content and language and notifies the client of user edits through
// HandleEditorChange. Programmatic SetContent calls originate remotely and
// must not be fed back through HandleEditorChange by the implementation;
// even if they are, the mirror recognizes them as synthetic.
type Editor interface {
	OpenFile(name, language, content string)
	CloseFile(name string)
	SetContent(name, content string)
}

// Handlers receive the room events the client does not consume itself.
type Handlers struct {
	OnChatMessage  func(msg protocol.Chat, self bool)
	OnParticipants func(list []protocol.Participant)
	OnSystemNotice func(msg protocol.SystemMessage)
	OnTyping       func(p protocol.Typing)
}

// Client keeps a local mirror of one room consistent with remote deltas
// while pushing local edits out, without feedback loops.
type Client struct {
	roomID   string
	username string

	editor   Editor
	handlers Handlers

	mirror *Mirror
	sent   *ttlset.Set

	mu       sync.Mutex
	tr       Transport
	state    State
	lastText string
	lastTx   time.Time
	inFlight bool

	now func() time.Time
	log *logrus.Entry
}

func New(roomID, username string, editor Editor, handlers Handlers) *Client {
	return &Client{
		roomID:   roomID,
		username: strings.TrimSpace(username),
		editor:   editor,
		handlers: handlers,
		mirror:   NewMirror(),
		sent:     ttlset.New(cidTTL),
		now:      time.Now,
		log:      logrus.WithField("room_id", roomID),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Files returns the mirrored file set.
func (c *Client) Files() []session.File {
	return c.mirror.Files()
}

// ActiveFile returns the name of the file currently bound to the editor.
func (c *Client) ActiveFile() string {
	return c.mirror.Active()
}

// Attach begins a session over the given transport. The first attach joins;
// a later attach after a connection loss rejoins. Either way the client
// re-requests the full participant and file snapshots rather than assuming
// any missed deltas were queued for it.
func (c *Client) Attach(tr Transport) {
	c.mu.Lock()
	rejoining := c.state != StateDisconnected || c.mirror.Len() > 0
	c.tr = tr
	if rejoining {
		c.state = StateRejoining
	} else {
		c.state = StateJoining
	}
	c.mu.Unlock()

	c.emit(protocol.EventJoinRoom, protocol.Join{RoomID: c.roomID, Username: c.username})
	c.emit(protocol.EventRequestParticipants, protocol.RoomRef{RoomID: c.roomID})
	c.emit(protocol.EventRequestFileList, protocol.RoomRef{RoomID: c.roomID})

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()
}

// Detach marks the connection as lost. Local state is kept for the rejoin.
func (c *Client) Detach() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.tr = nil
	c.mu.Unlock()
}

func (c *Client) emit(event string, data interface{}) {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()

	if tr == nil {
		return
	}
	if err := tr.Emit(event, data); err != nil {
		c.log.WithField("event", event).WithError(err).Warn("Emit failed")
	}
}

// apply runs one mirror mutation tagged with its origin. Only locally
// originated mutations are broadcast; remotely applied ones never are.
func (c *Client) apply(origin Origin, mutate func() bool, broadcast func()) bool {
	if !mutate() {
		return false
	}
	if origin == OriginLocal && broadcast != nil {
		broadcast()
	}
	return true
}

// Local operations

// CreateFile adds a new file seeded from its extension's starter template,
// makes it active, and announces it to the room.
func (c *Client) CreateFile(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrFileNotFound
	}
	if c.mirror.Has(name) {
		return ErrFileExists
	}

	f := session.File{
		Name:     name,
		Language: session.LanguageForName(name),
		Content:  session.StarterContent(name),
	}

	c.apply(OriginLocal,
		func() bool { return c.mirror.Add(f) },
		func() {
			c.emit(protocol.EventFileCreate, protocol.FileCreate{
				RoomID:   c.roomID,
				Name:     f.Name,
				Language: f.Language,
				Content:  f.Content,
			})
		})

	c.mirror.SetActive(name)
	c.editor.OpenFile(f.Name, f.Language, f.Content)
	return nil
}

// DeleteFile removes a file locally and announces it. The last remaining
// file cannot be deleted; if the active file goes, the first remaining file
// takes its place.
func (c *Client) DeleteFile(name string) error {
	if !c.mirror.Has(name) {
		return ErrFileNotFound
	}
	if c.mirror.Len() == 1 {
		return ErrLastFile
	}

	wasActive := c.mirror.Active() == name
	c.editor.CloseFile(name)

	c.apply(OriginLocal,
		func() bool { return c.mirror.Delete(name) },
		func() {
			c.emit(protocol.EventFileDelete, protocol.FileDelete{RoomID: c.roomID, Name: name})
		})

	if wasActive {
		c.openActive()
	}
	return nil
}

// RenameFile moves a file to a new name, carrying its in-flight content.
// The widget resource bound to the old name is released before the new one
// is bound, so two widgets never reference the same backing content.
func (c *Client) RenameFile(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == oldName {
		return nil
	}
	f, ok := c.mirror.Get(oldName)
	if !ok {
		return ErrFileNotFound
	}
	if c.mirror.Has(newName) {
		return ErrFileExists
	}

	wasActive := c.mirror.Active() == oldName
	c.editor.CloseFile(oldName)

	c.apply(OriginLocal,
		func() bool { return c.mirror.Rename(oldName, newName) },
		func() {
			c.emit(protocol.EventFileRename, protocol.FileRename{
				RoomID:  c.roomID,
				OldName: oldName,
				NewName: newName,
			})
		})

	if wasActive {
		c.editor.OpenFile(newName, f.Language, f.Content)
	}
	return nil
}

// SwitchFile changes the active file and rebinds the editor.
func (c *Client) SwitchFile(name string) error {
	f, ok := c.mirror.Get(name)
	if !ok {
		return ErrFileNotFound
	}
	c.mirror.SetActive(name)
	c.editor.OpenFile(f.Name, f.Language, f.Content)
	return nil
}

// HandleEditorChange is the widget's change notification for the active
// file. The mirror is updated optimistically and the delta goes out both as
// a file-change and, for backward compatibility, as a legacy whole-session
// code update. A notification that matches the mirror's current content is
// the echo of an applied remote delta and is dropped.
func (c *Client) HandleEditorChange(content string) {
	active := c.mirror.Active()
	if active == "" {
		return
	}

	c.apply(OriginLocal,
		func() bool { return c.mirror.SetContent(active, content) },
		func() {
			c.emit(protocol.EventFileChange, protocol.FileChange{
				RoomID:  c.roomID,
				Name:    active,
				Content: content,
			})
			c.emit(protocol.EventCodeChange, protocol.CodeChange{
				RoomID: c.roomID,
				Code:   content,
			})
		})
}

// SendTyping relays the typing indicator.
func (c *Client) SendTyping(typing bool) {
	c.emit(protocol.EventTyping, protocol.Typing{
		RoomID: c.roomID,
		From:   c.username,
		Typing: typing,
	})
}

// SendChat sends a chat message. Empty text or a missing room is a silent
// no-op. A duplicate of the same text inside the resend window, or a send
// while another is in flight, is dropped before reaching the network. The
// message renders locally right away; the broadcast echo is recognized by
// correlation id and rendered nowhere.
func (c *Client) SendChat(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || c.roomID == "" {
		return false
	}

	c.mu.Lock()
	now := c.now()
	if c.inFlight {
		c.mu.Unlock()
		return false
	}
	if text == c.lastText && now.Sub(c.lastTx) < chatResendWindow {
		c.mu.Unlock()
		return false
	}
	c.lastText = text
	c.lastTx = now
	c.inFlight = true
	c.mu.Unlock()

	cid := uuid.NewString()
	c.sent.Add(cid)

	msg := protocol.Chat{
		RoomID: c.roomID,
		From:   c.username,
		Text:   text,
		Time:   now.UnixMilli(),
		CID:    cid,
	}

	if c.handlers.OnChatMessage != nil {
		c.handlers.OnChatMessage(msg, true)
	}
	c.emit(protocol.EventChatMessage, msg)

	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
	return true
}

// Remote deltas

// HandleFrame reconciles one inbound frame into the mirror.
func (c *Client) HandleFrame(raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.WithError(err).Debug("Dropping malformed frame")
		return
	}

	switch env.Event {
	case protocol.EventParticipants:
		var list []protocol.Participant
		if json.Unmarshal(env.Data, &list) == nil && c.handlers.OnParticipants != nil {
			c.handlers.OnParticipants(list)
		}
	case protocol.EventFileList:
		var p protocol.FileList
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyFileList(p)
		}
	case protocol.EventFileCreate:
		var p protocol.FileCreate
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyRemoteCreate(p)
		}
	case protocol.EventFileDelete:
		var p protocol.FileDelete
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyRemoteDelete(p)
		}
	case protocol.EventFileRename:
		var p protocol.FileRename
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyRemoteRename(p)
		}
	case protocol.EventFileChange:
		var p protocol.FileChange
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyRemoteContent(p.Name, p.Content)
		}
	case protocol.EventCodeUpdate:
		var p protocol.CodeUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyRemoteContent(c.mirror.Active(), p.Code)
		}
	case protocol.EventLoadCode:
		var p protocol.LoadCode
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyLoadCode(p)
		}
	case protocol.EventChatMessage:
		var p protocol.Chat
		if json.Unmarshal(env.Data, &p) == nil {
			c.applyChat(p)
		}
	case protocol.EventTyping:
		var p protocol.Typing
		if json.Unmarshal(env.Data, &p) == nil && c.handlers.OnTyping != nil {
			c.handlers.OnTyping(p)
		}
	case protocol.EventMessage:
		var p protocol.SystemMessage
		if json.Unmarshal(env.Data, &p) == nil && c.handlers.OnSystemNotice != nil {
			c.handlers.OnSystemNotice(p)
		}
	}
}

func (c *Client) applyFileList(p protocol.FileList) {
	if len(p.Files) == 0 {
		return
	}
	c.apply(OriginRemote, func() bool {
		c.mirror.Replace(p.Files)
		return true
	}, nil)
	c.openActive()
}

func (c *Client) applyRemoteCreate(p protocol.FileCreate) {
	c.apply(OriginRemote, func() bool {
		return c.mirror.Add(session.File{
			Name:     p.Name,
			Language: p.Language,
			Content:  p.Content,
		})
	}, nil)
}

func (c *Client) applyRemoteDelete(p protocol.FileDelete) {
	if !c.mirror.Has(p.Name) {
		return
	}
	wasActive := c.mirror.Active() == p.Name
	c.editor.CloseFile(p.Name)
	c.apply(OriginRemote, func() bool {
		return c.mirror.Delete(p.Name)
	}, nil)
	if wasActive {
		c.openActive()
	}
}

func (c *Client) applyRemoteRename(p protocol.FileRename) {
	f, ok := c.mirror.Get(p.OldName)
	if !ok {
		return
	}
	wasActive := c.mirror.Active() == p.OldName
	c.editor.CloseFile(p.OldName)
	c.apply(OriginRemote, func() bool {
		return c.mirror.Rename(p.OldName, p.NewName)
	}, nil)
	if wasActive {
		c.editor.OpenFile(p.NewName, f.Language, f.Content)
	}
}

func (c *Client) applyRemoteContent(name, content string) {
	if name == "" {
		return
	}
	applied := c.apply(OriginRemote, func() bool {
		return c.mirror.SetContent(name, content)
	}, nil)
	if applied && name == c.mirror.Active() {
		c.editor.SetContent(name, content)
	}
}

// applyLoadCode handles the legacy whole-session load sent on join. The code
// lands in main.js when present, else the first file, else a fresh file.
func (c *Client) applyLoadCode(p protocol.LoadCode) {
	target := ""
	if c.mirror.Has(session.DefaultFileName) {
		target = session.DefaultFileName
	} else if files := c.mirror.Files(); len(files) > 0 {
		target = files[0].Name
	}

	if target == "" {
		lang := p.Language
		if lang == "" {
			lang = session.DefaultLanguage
		}
		f := session.File{Name: session.DefaultFileName, Language: lang, Content: p.Code}
		c.apply(OriginRemote, func() bool { return c.mirror.Add(f) }, nil)
		c.openActive()
		return
	}

	c.applyRemoteContent(target, p.Code)
}

func (c *Client) applyChat(p protocol.Chat) {
	// Own broadcast echo: already rendered at send time
	if p.CID != "" && c.sent.Contains(p.CID) {
		return
	}
	if c.handlers.OnChatMessage != nil {
		c.handlers.OnChatMessage(p, false)
	}
}

func (c *Client) openActive() {
	if f, ok := c.mirror.Get(c.mirror.Active()); ok {
		c.editor.OpenFile(f.Name, f.Language, f.Content)
	}
}
