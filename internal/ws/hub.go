package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omgupta81/Smartbridge/internal/persist"
	"github.com/omgupta81/Smartbridge/internal/protocol"
	"github.com/omgupta81/Smartbridge/internal/room"
	"github.com/omgupta81/Smartbridge/internal/session"
	"github.com/omgupta81/Smartbridge/internal/store"
)

// The set of active connections, keyed by room. Each room has one lock
// serializing its read-modify-broadcast sequences, so unrelated rooms never
// contend and broadcasts within a room are delivered in processing order.
type Hub struct {
	store     store.Store
	persister *persist.Persister

	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	// Guards clients and orders every mutate+broadcast on this room
	mu      sync.Mutex
	state   *room.Room
	clients map[*Client]bool
}

func NewHub(st store.Store, persister *persist.Persister) *Hub {
	return &Hub{
		store:     st,
		persister: persister,
		rooms:     make(map[string]*roomEntry),
	}
}

// entry returns the room's registry entry, creating it on first touch. Rooms
// are never evicted: canonical file state outlives its participants so
// rejoiners see live state instead of a persistence round-trip.
func (h *Hub) entry(roomID string) *roomEntry {
	h.mu.RLock()
	e, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return e
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.rooms[roomID]; ok {
		return e
	}
	e = &roomEntry{
		state:   room.NewRoom(roomID),
		clients: make(map[*Client]bool),
	}
	h.rooms[roomID] = e
	return e
}

func (h *Hub) lookup(roomID string) *roomEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// Stats for the HTTP surface

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, e := range h.rooms {
		e.mu.Lock()
		total += len(e.clients)
		e.mu.Unlock()
	}
	return total
}

func (h *Hub) ActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int)
	for id, e := range h.rooms {
		e.mu.Lock()
		if len(e.clients) > 0 {
			active[id] = len(e.clients)
		}
		e.mu.Unlock()
	}
	return active
}

func (h *Hub) RoomCount() int {
	return len(h.ActiveRooms())
}

// Event dispatch. Handlers run on the connection's read goroutine; room
// state is only touched under the room's lock. Validation failures and
// not-found conditions are silent no-ops per the protocol contract.
func (h *Hub) handle(c *Client, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logrus.WithField("conn_id", c.id).WithError(err).Debug("Dropping malformed frame")
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		var p protocol.Join
		if decode(env.Data, &p) {
			h.handleJoin(c, p)
		}
	case protocol.EventLeaveRoom:
		h.handleLeave(c)
	case protocol.EventRequestParticipants:
		var p protocol.RoomRef
		if decode(env.Data, &p) {
			h.handleRequestParticipants(c, p)
		}
	case protocol.EventRequestFileList:
		var p protocol.RoomRef
		if decode(env.Data, &p) {
			h.handleRequestFileList(c, p)
		}
	case protocol.EventFileCreate:
		var p protocol.FileCreate
		if decode(env.Data, &p) {
			h.handleFileCreate(c, p)
		}
	case protocol.EventFileDelete:
		var p protocol.FileDelete
		if decode(env.Data, &p) {
			h.handleFileDelete(c, p)
		}
	case protocol.EventFileRename:
		var p protocol.FileRename
		if decode(env.Data, &p) {
			h.handleFileRename(c, p)
		}
	case protocol.EventFileChange:
		var p protocol.FileChange
		if decode(env.Data, &p) {
			h.handleFileChange(c, p)
		}
	case protocol.EventCodeChange:
		var p protocol.CodeChange
		if decode(env.Data, &p) {
			h.handleCodeChange(c, p)
		}
	case protocol.EventChatMessage:
		var p protocol.Chat
		if decode(env.Data, &p) {
			h.handleChat(c, p)
		}
	case protocol.EventTyping:
		var p protocol.Typing
		if decode(env.Data, &p) {
			h.handleTyping(c, p)
		}
	default:
		logrus.WithFields(logrus.Fields{
			"conn_id": c.id,
			"event":   env.Event,
		}).Debug("Unknown event")
	}
}

func decode(raw json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		logrus.WithError(err).Debug("Dropping malformed payload")
		return false
	}
	return true
}

func (h *Hub) handleJoin(c *Client, p protocol.Join) {
	if p.RoomID == "" {
		return
	}

	// A connection belongs to at most one room
	if c.roomID != "" && c.roomID != p.RoomID {
		h.leaveRoom(c, c.roomID, false)
		c.roomID = ""
	}

	e := h.entry(p.RoomID)
	e.state.Populate(context.Background(), h.store)

	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.state.Join(c.id, p.Username)
	c.roomID = p.RoomID
	c.username = snapshot[len(snapshot)-1].Username
	e.clients[c] = true

	logrus.WithFields(logrus.Fields{
		"room_id": p.RoomID,
		"conn_id": c.id,
		"total":   len(e.clients),
	}).Info("Client joined room")

	e.broadcast(protocol.EventParticipants, toParticipants(snapshot), nil)
	e.broadcast(protocol.EventMessage, protocol.SystemMessage{
		From: "system",
		Text: c.username + " joined the room.",
	}, c)

	// Serve the legacy single-code view of the current state to the joiner
	if files := e.state.Files(); len(files) > 0 {
		e.sendTo(c, protocol.EventLoadCode, protocol.LoadCode{
			Code:     files[0].Content,
			Language: files[0].Language,
		})
	}
}

func (h *Hub) handleLeave(c *Client) {
	if c.roomID == "" {
		return
	}
	h.leaveRoom(c, c.roomID, false)
	c.roomID = ""
}

// disconnect is called when a connection's read pump exits. Unlike an
// explicit leave it announces the departure to the remaining participants.
func (h *Hub) disconnect(c *Client) {
	if c.roomID == "" {
		return
	}
	h.leaveRoom(c, c.roomID, true)
	c.roomID = ""
}

func (h *Hub) leaveRoom(c *Client, roomID string, notice bool) {
	e := h.lookup(roomID)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.clients, c)
	removed, snapshot := e.state.Leave(c.id)
	if !removed {
		return
	}

	logrus.WithFields(logrus.Fields{
		"room_id":   roomID,
		"conn_id":   c.id,
		"remaining": len(e.clients),
	}).Info("Client left room")

	e.broadcast(protocol.EventParticipants, toParticipants(snapshot), nil)
	if notice {
		e.broadcast(protocol.EventMessage, protocol.SystemMessage{
			From: "system",
			Text: c.username + " left the room.",
		}, nil)
	}
}

func (h *Hub) handleRequestParticipants(c *Client, p protocol.RoomRef) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" {
		return
	}
	e := h.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendTo(c, protocol.EventParticipants, toParticipants(e.state.Participants()))
}

func (h *Hub) handleRequestFileList(c *Client, p protocol.RoomRef) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" {
		return
	}
	e := h.entry(roomID)
	e.state.Populate(context.Background(), h.store)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendTo(c, protocol.EventFileList, protocol.FileList{Files: e.state.Files()})
}

func (h *Hub) handleFileCreate(c *Client, p protocol.FileCreate) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" || p.Name == "" {
		return
	}
	e := h.entry(roomID)
	e.state.Populate(context.Background(), h.store)

	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.state.CreateFile(session.File{
		Name:     p.Name,
		Language: p.Language,
		Content:  p.Content,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "name": p.Name}).WithError(err).Debug("Rejected file-create")
		return
	}

	p.RoomID = roomID
	e.broadcast(protocol.EventFileCreate, p, c)
	h.persister.QueueFiles(roomID, e.state.Files())
}

func (h *Hub) handleFileDelete(c *Client, p protocol.FileDelete) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" || p.Name == "" {
		return
	}
	e := h.entry(roomID)
	e.state.Populate(context.Background(), h.store)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.state.DeleteFile(p.Name); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "name": p.Name}).WithError(err).Debug("Rejected file-delete")
		return
	}

	p.RoomID = roomID
	e.broadcast(protocol.EventFileDelete, p, c)
	h.persister.QueueFiles(roomID, e.state.Files())
}

func (h *Hub) handleFileRename(c *Client, p protocol.FileRename) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" || p.OldName == "" || p.NewName == "" {
		return
	}
	e := h.entry(roomID)
	e.state.Populate(context.Background(), h.store)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.state.RenameFile(p.OldName, p.NewName); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "old": p.OldName, "new": p.NewName}).WithError(err).Debug("Rejected file-rename")
		return
	}

	p.RoomID = roomID
	e.broadcast(protocol.EventFileRename, p, c)
	h.persister.QueueFiles(roomID, e.state.Files())
}

func (h *Hub) handleFileChange(c *Client, p protocol.FileChange) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" || p.Name == "" {
		return
	}
	e := h.entry(roomID)
	e.state.Populate(context.Background(), h.store)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.state.SetContent(p.Name, p.Content); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "name": p.Name}).WithError(err).Debug("Rejected file-change")
		return
	}

	p.RoomID = roomID
	e.broadcast(protocol.EventFileChange, p, c)
	h.persister.QueueFiles(roomID, e.state.Files())
}

// Legacy whole-session path: relay to the other participants and persist the
// code field. The canonical file set is maintained by the file-change event
// that compatible clients emit alongside.
func (h *Hub) handleCodeChange(c *Client, p protocol.CodeChange) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" {
		return
	}
	e := h.entry(roomID)

	e.mu.Lock()
	e.broadcast(protocol.EventCodeUpdate, protocol.CodeUpdate{Code: p.Code}, c)
	h.persister.QueueCode(roomID, p.Code)
	e.mu.Unlock()
}

// Chat fan-out goes to every connection in the room including the sender;
// the sender recognizes its own echo by correlation id and skips rendering.
func (h *Hub) handleChat(c *Client, p protocol.Chat) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" || strings.TrimSpace(p.Text) == "" {
		return
	}
	e := h.entry(roomID)

	from := p.From
	if from == "" {
		from = c.username
	}
	msg := protocol.Chat{
		From: from,
		Text: p.Text,
		Time: time.Now().UnixMilli(),
		CID:  p.CID,
	}

	e.mu.Lock()
	e.broadcast(protocol.EventChatMessage, msg, nil)
	h.persister.QueueChat(roomID, session.ChatEntry{
		From: msg.From,
		Text: msg.Text,
		Time: msg.Time,
		CID:  msg.CID,
	})
	e.mu.Unlock()
}

func (h *Hub) handleTyping(c *Client, p protocol.Typing) {
	roomID := orConn(p.RoomID, c)
	if roomID == "" {
		return
	}
	e := h.entry(roomID)

	if p.From == "" {
		p.From = c.username
	}

	e.mu.Lock()
	e.broadcast(protocol.EventTyping, p, c)
	e.mu.Unlock()
}

// Fan-out helpers, called with the entry's lock held.

func (e *roomEntry) broadcast(event string, data interface{}, except *Client) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		logrus.WithField("event", event).WithError(err).Error("Failed to encode frame")
		return
	}
	for client := range e.clients {
		if client == except {
			continue
		}
		client.trySend(frame)
	}
}

func (e *roomEntry) sendTo(c *Client, event string, data interface{}) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		logrus.WithField("event", event).WithError(err).Error("Failed to encode frame")
		return
	}
	c.trySend(frame)
}

func toParticipants(snapshot []room.Participant) []protocol.Participant {
	out := make([]protocol.Participant, len(snapshot))
	for i, p := range snapshot {
		out[i] = protocol.Participant{ID: p.ID, Username: p.Username}
	}
	return out
}

func orConn(roomID string, c *Client) string {
	if roomID != "" {
		return roomID
	}
	return c.roomID
}
