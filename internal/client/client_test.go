package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omgupta81/Smartbridge/internal/protocol"
	"github.com/omgupta81/Smartbridge/internal/session"
)

// Transport fake recording every emitted event
type fakeTransport struct {
	mu     sync.Mutex
	events []emitted
}

type emitted struct {
	event string
	data  interface{}
}

func (f *fakeTransport) Emit(event string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: event, data: data})
	return nil
}

func (f *fakeTransport) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.event
	}
	return out
}

func (f *fakeTransport) last(event string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i].data, true
		}
	}
	return nil, false
}

func (f *fakeTransport) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// Editor fake recording widget calls in order
type fakeEditor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEditor) OpenFile(name, language, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "open:"+name)
}

func (f *fakeEditor) CloseFile(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "close:"+name)
}

func (f *fakeEditor) SetContent(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "set:"+name+"="+content)
}

func (f *fakeEditor) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEditor) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func frame(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	raw, err := protocol.Encode(event, data)
	require.NoError(t, err)
	return raw
}

func newAttached(t *testing.T) (*Client, *fakeTransport, *fakeEditor) {
	t.Helper()
	tr := &fakeTransport{}
	ed := &fakeEditor{}
	c := New("r1", "alice", ed, Handlers{})
	c.Attach(tr)
	c.HandleFrame(frame(t, protocol.EventFileList, protocol.FileList{
		Files: []session.File{{Name: "main.js", Language: "javascript", Content: "seed"}},
	}))
	tr.reset()
	ed.reset()
	return c, tr, ed
}

func TestAttachEmitsJoinAndSnapshots(t *testing.T) {
	tr := &fakeTransport{}
	c := New("r1", " alice ", &fakeEditor{}, Handlers{})

	assert.Equal(t, StateDisconnected, c.State())
	c.Attach(tr)

	assert.Equal(t, []string{
		protocol.EventJoinRoom,
		protocol.EventRequestParticipants,
		protocol.EventRequestFileList,
	}, tr.names())

	data, ok := tr.last(protocol.EventJoinRoom)
	require.True(t, ok)
	join := data.(protocol.Join)
	assert.Equal(t, "r1", join.RoomID)
	assert.Equal(t, "alice", join.Username)
	assert.Equal(t, StateActive, c.State())
}

func TestReattachRequestsFreshSnapshots(t *testing.T) {
	c, tr, _ := newAttached(t)

	c.Detach()
	assert.Equal(t, StateDisconnected, c.State())

	tr2 := &fakeTransport{}
	c.Attach(tr2)

	assert.Equal(t, []string{
		protocol.EventJoinRoom,
		protocol.EventRequestParticipants,
		protocol.EventRequestFileList,
	}, tr2.names())
	assert.Empty(t, tr.names())
	assert.Equal(t, StateActive, c.State())
}

func TestFileListOpensActiveFile(t *testing.T) {
	tr := &fakeTransport{}
	ed := &fakeEditor{}
	c := New("r1", "alice", ed, Handlers{})
	c.Attach(tr)

	c.HandleFrame(frame(t, protocol.EventFileList, protocol.FileList{
		Files: []session.File{
			{Name: "a.js", Language: "javascript", Content: "1"},
			{Name: "b.py", Language: "python", Content: "2"},
		},
	}))

	assert.Equal(t, "a.js", c.ActiveFile())
	assert.Contains(t, ed.log(), "open:a.js")
	// Receiving the snapshot re-broadcasts nothing
	assert.Equal(t, 0, tr.count(protocol.EventFileCreate))
	assert.Equal(t, 0, tr.count(protocol.EventFileChange))
}

func TestLocalEditBroadcastsBothChannels(t *testing.T) {
	c, tr, _ := newAttached(t)

	c.HandleEditorChange("edited")

	assert.Equal(t, 1, tr.count(protocol.EventFileChange))
	assert.Equal(t, 1, tr.count(protocol.EventCodeChange))

	data, _ := tr.last(protocol.EventFileChange)
	change := data.(protocol.FileChange)
	assert.Equal(t, "main.js", change.Name)
	assert.Equal(t, "edited", change.Content)
}

func TestRemoteChangeAppliesWithoutRebroadcast(t *testing.T) {
	c, tr, ed := newAttached(t)

	c.HandleFrame(frame(t, protocol.EventFileChange, protocol.FileChange{
		Name: "main.js", Content: "remote",
	}))

	assert.Contains(t, ed.log(), "set:main.js=remote")
	assert.Equal(t, 0, tr.count(protocol.EventFileChange))
	assert.Equal(t, 0, tr.count(protocol.EventCodeChange))

	// The widget echoes the programmatic update; the mirror already holds
	// that content so nothing goes back out
	c.HandleEditorChange("remote")
	assert.Equal(t, 0, tr.count(protocol.EventFileChange))
}

func TestRemoteChangeToInactiveFileSkipsEditor(t *testing.T) {
	c, _, ed := newAttached(t)
	require.NoError(t, c.CreateFile("side.py"))
	require.NoError(t, c.SwitchFile("main.js"))
	ed.reset()

	c.HandleFrame(frame(t, protocol.EventFileChange, protocol.FileChange{
		Name: "side.py", Content: "remote",
	}))

	assert.Empty(t, ed.log())
	f, ok := c.mirror.Get("side.py")
	require.True(t, ok)
	assert.Equal(t, "remote", f.Content)
}

func TestCreateFile(t *testing.T) {
	c, tr, ed := newAttached(t)

	require.NoError(t, c.CreateFile("script.py"))
	assert.Equal(t, ErrFileExists, c.CreateFile("script.py"))

	assert.Equal(t, "script.py", c.ActiveFile())
	assert.Contains(t, ed.log(), "open:script.py")

	data, ok := tr.last(protocol.EventFileCreate)
	require.True(t, ok)
	created := data.(protocol.FileCreate)
	assert.Equal(t, "script.py", created.Name)
	assert.Equal(t, "python", created.Language)
	assert.Contains(t, created.Content, "Hello from Python")
}

func TestDeleteFile(t *testing.T) {
	c, tr, ed := newAttached(t)

	assert.Equal(t, ErrLastFile, c.DeleteFile("main.js"))
	assert.Equal(t, ErrFileNotFound, c.DeleteFile("nope.js"))

	require.NoError(t, c.CreateFile("side.py"))
	ed.reset()

	require.NoError(t, c.DeleteFile("side.py"))
	assert.Equal(t, 1, tr.count(protocol.EventFileDelete))

	// Active fell back to the remaining file
	assert.Equal(t, "main.js", c.ActiveFile())
	log := ed.log()
	assert.Equal(t, "close:side.py", log[0])
	assert.Contains(t, log, "open:main.js")
}

func TestRenameFileReleasesOldWidgetFirst(t *testing.T) {
	c, tr, ed := newAttached(t)
	c.HandleEditorChange("draft")
	ed.reset()

	require.NoError(t, c.RenameFile("main.js", "app.js"))

	log := ed.log()
	require.Len(t, log, 2)
	assert.Equal(t, "close:main.js", log[0])
	assert.Equal(t, "open:app.js", log[1])

	f, ok := c.mirror.Get("app.js")
	require.True(t, ok)
	assert.Equal(t, "draft", f.Content)
	assert.Equal(t, "javascript", f.Language)

	data, ok := tr.last(protocol.EventFileRename)
	require.True(t, ok)
	renamed := data.(protocol.FileRename)
	assert.Equal(t, "main.js", renamed.OldName)
	assert.Equal(t, "app.js", renamed.NewName)
}

func TestRenameRejections(t *testing.T) {
	c, tr, _ := newAttached(t)
	require.NoError(t, c.CreateFile("b.js"))
	tr.reset()

	assert.Equal(t, ErrFileNotFound, c.RenameFile("ghost.js", "x.js"))
	assert.Equal(t, ErrFileExists, c.RenameFile("main.js", "b.js"))
	assert.NoError(t, c.RenameFile("main.js", "main.js"))
	assert.Equal(t, 0, tr.count(protocol.EventFileRename))
}

func TestRemoteDeleteOfActiveFallsBack(t *testing.T) {
	c, tr, ed := newAttached(t)
	require.NoError(t, c.CreateFile("side.py"))
	tr.reset()
	ed.reset()

	c.HandleFrame(frame(t, protocol.EventFileDelete, protocol.FileDelete{Name: "side.py"}))

	assert.Equal(t, "main.js", c.ActiveFile())
	log := ed.log()
	assert.Equal(t, "close:side.py", log[0])
	assert.Contains(t, log, "open:main.js")
	assert.Equal(t, 0, tr.count(protocol.EventFileDelete))
}

func TestRemoteRename(t *testing.T) {
	c, tr, ed := newAttached(t)
	ed.reset()

	c.HandleFrame(frame(t, protocol.EventFileRename, protocol.FileRename{
		OldName: "main.js", NewName: "app.js",
	}))

	assert.Equal(t, "app.js", c.ActiveFile())
	f, ok := c.mirror.Get("app.js")
	require.True(t, ok)
	assert.Equal(t, "seed", f.Content)
	assert.Equal(t, 0, tr.count(protocol.EventFileRename))
}

func TestLoadCodeTargetsMainJS(t *testing.T) {
	c, _, _ := newAttached(t)

	c.HandleFrame(frame(t, protocol.EventLoadCode, protocol.LoadCode{
		Code: "loaded", Language: "javascript",
	}))

	f, ok := c.mirror.Get("main.js")
	require.True(t, ok)
	assert.Equal(t, "loaded", f.Content)
}

func TestLoadCodeBeforeFileListCreatesFile(t *testing.T) {
	tr := &fakeTransport{}
	ed := &fakeEditor{}
	c := New("r1", "alice", ed, Handlers{})
	c.Attach(tr)

	c.HandleFrame(frame(t, protocol.EventLoadCode, protocol.LoadCode{
		Code: "legacy", Language: "javascript",
	}))

	f, ok := c.mirror.Get("main.js")
	require.True(t, ok)
	assert.Equal(t, "legacy", f.Content)
	assert.Equal(t, "main.js", c.ActiveFile())
}

func TestSendChat(t *testing.T) {
	var rendered []struct {
		msg  protocol.Chat
		self bool
	}
	tr := &fakeTransport{}
	c := New("r1", "alice", &fakeEditor{}, Handlers{
		OnChatMessage: func(msg protocol.Chat, self bool) {
			rendered = append(rendered, struct {
				msg  protocol.Chat
				self bool
			}{msg, self})
		},
	})
	c.Attach(tr)
	tr.reset()

	assert.False(t, c.SendChat("   "))
	assert.True(t, c.SendChat("hello"))

	// Rendered locally once, emitted once
	require.Len(t, rendered, 1)
	assert.True(t, rendered[0].self)
	assert.Equal(t, "hello", rendered[0].msg.Text)
	assert.NotEmpty(t, rendered[0].msg.CID)
	assert.Equal(t, 1, tr.count(protocol.EventChatMessage))

	// The broadcast echo carries our correlation id and renders nowhere
	data, _ := tr.last(protocol.EventChatMessage)
	echo := data.(protocol.Chat)
	c.HandleFrame(frame(t, protocol.EventChatMessage, echo))
	assert.Len(t, rendered, 1)

	// Someone else's message renders exactly once
	c.HandleFrame(frame(t, protocol.EventChatMessage, protocol.Chat{
		From: "bob", Text: "hi", CID: "cid-bob",
	}))
	require.Len(t, rendered, 2)
	assert.False(t, rendered[1].self)
	assert.Equal(t, "bob", rendered[1].msg.From)
}

func TestSendChatResendWindow(t *testing.T) {
	tr := &fakeTransport{}
	c := New("r1", "alice", &fakeEditor{}, Handlers{})
	c.Attach(tr)
	tr.reset()

	base := time.Now()
	c.now = func() time.Time { return base }

	assert.True(t, c.SendChat("hello"))
	assert.False(t, c.SendChat("hello"))

	c.now = func() time.Time { return base.Add(100 * time.Millisecond) }
	assert.True(t, c.SendChat("different"))

	c.now = func() time.Time { return base.Add(400 * time.Millisecond) }
	assert.True(t, c.SendChat("different"))

	assert.Equal(t, 3, tr.count(protocol.EventChatMessage))
}

func TestHandlersReceiveRoomEvents(t *testing.T) {
	var roster []protocol.Participant
	var notices []protocol.SystemMessage
	var typings []protocol.Typing

	c := New("r1", "alice", &fakeEditor{}, Handlers{
		OnParticipants: func(list []protocol.Participant) { roster = list },
		OnSystemNotice: func(msg protocol.SystemMessage) { notices = append(notices, msg) },
		OnTyping:       func(p protocol.Typing) { typings = append(typings, p) },
	})
	c.Attach(&fakeTransport{})

	c.HandleFrame(frame(t, protocol.EventParticipants, []protocol.Participant{
		{ID: "c1", Username: "alice"},
		{ID: "c2", Username: "bob"},
	}))
	require.Len(t, roster, 2)
	assert.Equal(t, "bob", roster[1].Username)

	c.HandleFrame(frame(t, protocol.EventMessage, protocol.SystemMessage{
		From: "system", Text: "bob joined the room.",
	}))
	require.Len(t, notices, 1)
	assert.Equal(t, "bob joined the room.", notices[0].Text)

	c.HandleFrame(frame(t, protocol.EventTyping, protocol.Typing{From: "bob", Typing: true}))
	require.Len(t, typings, 1)
	assert.True(t, typings[0].Typing)
}

func TestDetachedEmitsAreDropped(t *testing.T) {
	c, tr, _ := newAttached(t)
	c.Detach()

	c.HandleEditorChange("offline edit")
	c.SendChat("offline")
	c.SendTyping(true)

	assert.Empty(t, tr.names())

	// The offline edit survives in the mirror for the rejoin
	f, ok := c.mirror.Get("main.js")
	require.True(t, ok)
	assert.Equal(t, "offline edit", f.Content)
}

func TestMalformedFrameIgnored(t *testing.T) {
	c, tr, _ := newAttached(t)
	c.HandleFrame([]byte("{bad json"))
	c.HandleFrame([]byte(`{"event":"file-change","data":42}`))
	assert.Empty(t, tr.names())
}
