package protocol

import (
	"encoding/json"

	"github.com/omgupta81/Smartbridge/internal/session"
)

// Named events carried over the real-time channel. Both directions share the
// same envelope shape.
const (
	EventJoinRoom            = "join-room"
	EventLeaveRoom           = "leave-room"
	EventRequestParticipants = "request-participants"
	EventParticipants        = "participants"
	EventRequestFileList     = "request-file-list"
	EventFileList            = "file-list"
	EventFileCreate          = "file-create"
	EventFileDelete          = "file-delete"
	EventFileRename          = "file-rename"
	EventFileChange          = "file-change"
	EventCodeChange          = "code-change"
	EventCodeUpdate          = "code-update"
	EventLoadCode            = "load-code"
	EventChatMessage         = "chat-message"
	EventTyping              = "typing"
	EventMessage             = "message"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a payload into a framed envelope.
func Encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Payloads

type Join struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type FileList struct {
	Files []session.File `json:"files"`
}

type FileCreate struct {
	RoomID   string `json:"roomId"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

type FileDelete struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type FileRename struct {
	RoomID  string `json:"roomId"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type FileChange struct {
	RoomID  string `json:"roomId"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Legacy single-file path, kept for clients that predate multi-file support.

type CodeChange struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type CodeUpdate struct {
	Code string `json:"code"`
}

type LoadCode struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type Chat struct {
	RoomID string `json:"roomId,omitempty"`
	From   string `json:"from"`
	Text   string `json:"text"`
	Time   int64  `json:"time"`
	CID    string `json:"cid,omitempty"`
}

type Typing struct {
	RoomID string `json:"roomId,omitempty"`
	From   string `json:"from"`
	Typing bool   `json:"typing"`
}

// SystemMessage is a human-readable notice emitted by the server.
type SystemMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}
