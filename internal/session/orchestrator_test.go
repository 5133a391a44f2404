// ABOUTME: Tests for the session orchestrator: creation caps, lifecycle, and stream fanout.
// ABOUTME: Uses fake runtime, store, and workspace collaborators to drive scenarios.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/perch-gateway/internal/runtime"
	"github.com/2389/perch-gateway/internal/store"
)

// fakeWorkspaces resolves a fixed set of workspace names.
type fakeWorkspaces struct {
	names map[string]bool
}

func (f *fakeWorkspaces) Exists(name string) bool { return f.names[name] }

func (f *fakeWorkspaces) Path(name string) (string, error) {
	if !f.names[name] {
		return "", errors.New("no such workspace")
	}
	return filepath.Join("/workspaces", name), nil
}

// fakeRecordStore records calls in memory.
type fakeRecordStore struct {
	mu      sync.Mutex
	records map[string]*store.SessionRecord
	failOn  string // operation name to fail: "create"
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[string]*store.SessionRecord)}
}

func (f *fakeRecordStore) CreateSessionRecord(_ context.Context, rec *store.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "create" {
		return errors.New("store unavailable")
	}
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeRecordStore) UpdateSessionRecord(_ context.Context, identity, sessionID, status string, lastActivity time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[sessionID]
	if !ok || rec.Identity != identity {
		return store.ErrNotFound
	}
	rec.Status = status
	rec.LastActivity = lastActivity
	return nil
}

func (f *fakeRecordStore) DeleteSessionRecord(_ context.Context, identity, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, sessionID)
	return nil
}

func (f *fakeRecordStore) get(id string) *store.SessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// fakeRuntime hands the test control of each session's output channel and
// exposes the input source the orchestrator wired in.
type fakeRuntime struct {
	mu   sync.Mutex
	runs []*fakeRun
	fail bool
}

type fakeRun struct {
	cfg     runtime.RunConfig
	inputs  runtime.InputSource
	outputs chan runtime.Output
	ctx     context.Context
}

func (f *fakeRuntime) Run(ctx context.Context, cfg runtime.RunConfig, inputs runtime.InputSource) (<-chan runtime.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("spawn failed")
	}
	run := &fakeRun{
		cfg:     cfg,
		inputs:  inputs,
		outputs: make(chan runtime.Output, 16),
		ctx:     ctx,
	}
	f.runs = append(f.runs, run)
	return run.outputs, nil
}

func (f *fakeRuntime) lastRun() *fakeRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runs) == 0 {
		return nil
	}
	return f.runs[len(f.runs)-1]
}

// fakeStreamConn records frames sent to a subscriber.
type fakeStreamConn struct {
	mu     sync.Mutex
	frames []streamFrame
	closed bool
	code   websocket.StatusCode
}

func (c *fakeStreamConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeStreamConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	return nil
}

func (c *fakeStreamConn) frameTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		types = append(types, f.Type)
	}
	return types
}

func (c *fakeStreamConn) waitFrame(t *testing.T, frameType string) streamFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		for _, f := range c.frames {
			if f.Type == frameType {
				c.mu.Unlock()
				return f
			}
		}
		c.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("no %q frame arrived; got %v", frameType, c.frameTypes())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type orchFixture struct {
	orch    *Orchestrator
	store   *fakeRecordStore
	runtime *fakeRuntime
}

func newOrchFixture(t *testing.T, maxRunning int) *orchFixture {
	t.Helper()
	fx := &orchFixture{
		store:   newFakeRecordStore(),
		runtime: &fakeRuntime{},
	}
	ws := &fakeWorkspaces{names: map[string]bool{"proj": true, "other": true}}
	fx.orch = NewOrchestrator(fx.store, fx.runtime, ws, maxRunning, "default-model", testLogger())
	t.Cleanup(fx.orch.Shutdown)
	return fx
}

func (fx *orchFixture) create(t *testing.T, identity string) string {
	t.Helper()
	id, err := fx.orch.CreateSession(t.Context(), &CreateRequest{
		Identity:  identity,
		Workspace: "proj",
		Prompt:    "do the thing",
	})
	require.NoError(t, err)
	return id
}

func TestCreateSession(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	assert.NotEmpty(t, id)

	// Session record persisted as running.
	rec := fx.store.get(id)
	require.NotNil(t, rec)
	assert.Equal(t, "alice", rec.Identity)
	assert.Equal(t, store.StatusRunning, rec.Status)
	assert.Equal(t, "default-model", rec.Model)

	// Runtime started in the right workspace with the initial prompt queued.
	run := fx.runtime.lastRun()
	require.NotNil(t, run)
	assert.Equal(t, filepath.Join("/workspaces", "proj"), run.cfg.WorkspaceDir)

	input, ok := run.inputs.Next(t.Context())
	require.True(t, ok)
	assert.Equal(t, "do the thing", input.Content)
	assert.Equal(t, id, input.SessionID)
}

func TestCreateSession_UnknownWorkspace(t *testing.T) {
	fx := newOrchFixture(t, 5)

	_, err := fx.orch.CreateSession(t.Context(), &CreateRequest{
		Identity:  "alice",
		Workspace: "missing",
		Prompt:    "hi",
	})
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestCreateSession_LimitPerIdentity(t *testing.T) {
	fx := newOrchFixture(t, 2)

	fx.create(t, "alice")
	fx.create(t, "alice")

	_, err := fx.orch.CreateSession(t.Context(), &CreateRequest{
		Identity:  "alice",
		Workspace: "proj",
		Prompt:    "one too many",
	})
	assert.ErrorIs(t, err, ErrSessionLimit)

	// The cap is per identity, not global.
	fx.create(t, "bob")
}

func TestCreateSession_IdleSessionsDoNotCount(t *testing.T) {
	fx := newOrchFixture(t, 1)

	id := fx.create(t, "alice")

	// Finish the first session's stream so it transitions to idle.
	close(fx.runtime.lastRun().outputs)
	waitStatus(t, fx.orch, "alice", id, store.StatusIdle)

	fx.create(t, "alice")
}

func TestCreateSession_StoreFailureRollsBack(t *testing.T) {
	fx := newOrchFixture(t, 5)
	fx.store.failOn = "create"

	_, err := fx.orch.CreateSession(t.Context(), &CreateRequest{
		Identity:  "alice",
		Workspace: "proj",
		Prompt:    "hi",
	})
	require.Error(t, err)
	assert.Empty(t, fx.orch.ListUserSessions("alice"))
}

func TestCreateSession_RuntimeFailureRollsBack(t *testing.T) {
	fx := newOrchFixture(t, 5)
	fx.runtime.fail = true

	_, err := fx.orch.CreateSession(t.Context(), &CreateRequest{
		Identity:  "alice",
		Workspace: "proj",
		Prompt:    "hi",
	})
	require.Error(t, err)
	assert.Empty(t, fx.orch.ListUserSessions("alice"))
}

func TestSendMessage_FIFO(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	require.NoError(t, fx.orch.SendMessage(id, "second"))
	require.NoError(t, fx.orch.SendMessage(id, "third"))

	run := fx.runtime.lastRun()
	for _, want := range []string{"do the thing", "second", "third"} {
		input, ok := run.inputs.Next(t.Context())
		require.True(t, ok)
		assert.Equal(t, want, input.Content)
	}
}

func TestSendMessage_UnknownSession(t *testing.T) {
	fx := newOrchFixture(t, 5)
	err := fx.orch.SendMessage("nope", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStreamFrames_EventThenDone(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	conn := &fakeStreamConn{}
	require.True(t, fx.orch.AddStreamClient(id, conn))

	run := fx.runtime.lastRun()
	run.outputs <- runtime.Output{Event: json.RawMessage(`{"kind":"text"}`)}
	close(run.outputs)

	frame := conn.waitFrame(t, "event")
	assert.Equal(t, id, frame.SessionID)
	assert.JSONEq(t, `{"kind":"text"}`, string(frame.Event))

	conn.waitFrame(t, "done")
	waitStatus(t, fx.orch, "alice", id, store.StatusIdle)

	// Terminal status persisted.
	assert.Equal(t, store.StatusIdle, fx.store.get(id).Status)
}

func TestStreamFrames_Error(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	conn := &fakeStreamConn{}
	require.True(t, fx.orch.AddStreamClient(id, conn))

	run := fx.runtime.lastRun()
	run.outputs <- runtime.Output{Err: errors.New("agent crashed")}
	close(run.outputs)

	frame := conn.waitFrame(t, "error")
	assert.Equal(t, "agent crashed", frame.Error)

	waitStatus(t, fx.orch, "alice", id, store.StatusError)
	assert.Equal(t, store.StatusError, fx.store.get(id).Status)
}

func TestStreamFrames_IdleOnSecondPull(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	conn := &fakeStreamConn{}
	require.True(t, fx.orch.AddStreamClient(id, conn))

	run := fx.runtime.lastRun()

	// First pull takes the initial prompt; no idle yet.
	_, ok := run.inputs.Next(t.Context())
	require.True(t, ok)
	assert.NotContains(t, conn.frameTypes(), "idle")

	// Second pull means the turn is done and the runtime wants more.
	go func() { _, _ = run.inputs.Next(context.Background()) }()
	conn.waitFrame(t, "idle")
}

func TestInterruptSession(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	run := fx.runtime.lastRun()

	require.NoError(t, fx.orch.InterruptSession(id))

	// The runtime observes cancellation and ends its stream.
	select {
	case <-run.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("interrupt did not cancel the runtime context")
	}
	close(run.outputs)

	// Interrupted sessions stay addressable.
	waitStatus(t, fx.orch, "alice", id, store.StatusIdle)
	assert.True(t, fx.orch.IsUserSession(id, "alice"))
}

func TestInterruptSession_Unknown(t *testing.T) {
	fx := newOrchFixture(t, 5)
	assert.ErrorIs(t, fx.orch.InterruptSession("nope"), ErrSessionNotFound)
}

func TestCloseSession(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	conn := &fakeStreamConn{}
	require.True(t, fx.orch.AddStreamClient(id, conn))

	require.NoError(t, fx.orch.CloseSession(id))

	assert.False(t, fx.orch.IsUserSession(id, "alice"))
	assert.Nil(t, fx.store.get(id), "record deleted on close")

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
	assert.Equal(t, websocket.StatusNormalClosure, conn.code)
}

func TestCloseSession_Idempotent(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	require.NoError(t, fx.orch.CloseSession(id))
	require.NoError(t, fx.orch.CloseSession(id))
	require.NoError(t, fx.orch.CloseSession("never-existed"))
}

func TestCloseSession_FreesCapacity(t *testing.T) {
	fx := newOrchFixture(t, 1)

	id := fx.create(t, "alice")
	require.NoError(t, fx.orch.CloseSession(id))

	fx.create(t, "alice")
}

func TestAddStreamClient_UnknownSession(t *testing.T) {
	fx := newOrchFixture(t, 5)
	assert.False(t, fx.orch.AddStreamClient("nope", &fakeStreamConn{}))
}

func TestRemoveStreamClient_Tolerant(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	conn := &fakeStreamConn{}
	require.True(t, fx.orch.AddStreamClient(id, conn))

	fx.orch.RemoveStreamClient(id, conn)
	fx.orch.RemoveStreamClient(id, conn)
	fx.orch.RemoveStreamClient("nope", conn)
}

func TestListUserSessions_ScopedToIdentity(t *testing.T) {
	fx := newOrchFixture(t, 5)

	aliceID := fx.create(t, "alice")
	fx.create(t, "bob")

	infos := fx.orch.ListUserSessions("alice")
	require.Len(t, infos, 1)
	assert.Equal(t, aliceID, infos[0].ID)
	assert.Equal(t, "proj", infos[0].Workspace)
	assert.Equal(t, store.StatusRunning, infos[0].Status)

	assert.Empty(t, fx.orch.ListUserSessions("carol"))
}

func TestIsUserSession(t *testing.T) {
	fx := newOrchFixture(t, 5)

	id := fx.create(t, "alice")
	assert.True(t, fx.orch.IsUserSession(id, "alice"))
	assert.False(t, fx.orch.IsUserSession(id, "bob"))
	assert.False(t, fx.orch.IsUserSession("nope", "alice"))
}

func TestShutdown_ClosesAllSessions(t *testing.T) {
	fx := newOrchFixture(t, 5)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, fx.create(t, fmt.Sprintf("user-%d", i)))
	}

	fx.orch.Shutdown()

	for i, id := range ids {
		assert.False(t, fx.orch.IsUserSession(id, fmt.Sprintf("user-%d", i)))
	}
}

// waitStatus polls until the session reports the wanted status.
func waitStatus(t *testing.T, orch *Orchestrator, identity, sessionID, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, info := range orch.ListUserSessions(identity) {
			if info.ID == sessionID && info.Status == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("session %s never reached status %q", sessionID, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
