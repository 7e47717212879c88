// ABOUTME: HTTP and WebSocket tests for the agent console API.
// ABOUTME: Runs a full scheduler with a SQLite store behind an httptest server.

package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donafarma/dispatch/internal/config"
	"github.com/donafarma/dispatch/internal/dispatch"
	"github.com/donafarma/dispatch/internal/geo"
	"github.com/donafarma/dispatch/internal/identity"
	"github.com/donafarma/dispatch/internal/pool"
	"github.com/donafarma/dispatch/internal/session"
	"github.com/donafarma/dispatch/internal/store"
)

type nullSender struct {
	mu   sync.Mutex
	sent []string
}

func (n *nullSender) SendText(_ context.Context, to identity.ID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, string(to)+": "+text)
	return nil
}

type staticLookup struct{}

func (staticLookup) Lookup(context.Context, string) (*geo.Eligibility, error) {
	return &geo.Eligibility{AddressSummary: "Centro, São Paulo/SP", DistanceKm: 1.2, WithinRadius: true}, nil
}

type consoleRig struct {
	ts        *httptest.Server
	scheduler *dispatch.Scheduler
	store     store.Store
	sender    *nullSender
}

func newConsoleRig(t *testing.T) *consoleRig {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testLogWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Store.Name = "Drogaria Dona Farma"
	cfg.Agents = []config.AgentConfig{
		{ID: "ana", Name: "Ana", Capacity: 3},
		{ID: "bruno", Name: "Bruno", Capacity: 3},
	}

	agentPool := pool.New([]pool.Spec{
		{ID: "ana", Name: "Ana", Capacity: 3},
		{ID: "bruno", Name: "Bruno", Capacity: 3},
	}, logger)

	hub := NewHub(logger)
	sender := &nullSender{}
	scheduler := dispatch.New(cfg, agentPool, st, sender, staticLookup{}, hub, nil, logger)

	srv := NewServer(scheduler, agentPool, st, hub, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &consoleRig{ts: ts, scheduler: scheduler, store: st, sender: sender}
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (r *consoleRig) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(r.ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func (r *consoleRig) getJSON(t *testing.T, path string, out any) {
	t.Helper()
	resp, err := http.Get(r.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// bringInService drives one customer through intake and into service.
func (r *consoleRig) bringInService(t *testing.T, from string) identity.ID {
	t.Helper()
	ctx := context.Background()
	id := identity.Canonical(from)

	r.scheduler.HandleInbound(ctx, dispatch.InboundMessage{From: from, Text: "Oi"})
	r.scheduler.HandleInbound(ctx, dispatch.InboundMessage{From: from, Text: "Maria"})
	r.scheduler.HandleInbound(ctx, dispatch.InboundMessage{From: from, Text: "01310100"})

	require.Eventually(t, func() bool {
		sum, err := r.scheduler.Summary(id)
		return err == nil && sum.Stage == session.StageChoosingAgent.String()
	}, 2*time.Second, 10*time.Millisecond)

	r.scheduler.HandleInbound(ctx, dispatch.InboundMessage{From: from, Text: "1"})

	require.Eventually(t, func() bool {
		sum, err := r.scheduler.Summary(id)
		return err == nil && sum.Stage == session.StageInService.String()
	}, 2*time.Second, 10*time.Millisecond)
	return id
}

func TestHealthEndpoint(t *testing.T) {
	rig := newConsoleRig(t)

	resp, err := http.Get(rig.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginLogoutChangesAvailability(t *testing.T) {
	rig := newConsoleRig(t)

	resp := rig.post(t, "/api/agents/ana/login", struct{}{})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agents []agentView
	rig.getJSON(t, "/api/agents", &agents)
	require.Len(t, agents, 2)
	assert.Equal(t, "available", agents[0].Availability)
	assert.Equal(t, "offline", agents[1].Availability)

	resp = rig.post(t, "/api/agents/ana/logout", struct{}{})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rig.getJSON(t, "/api/agents", &agents)
	assert.Equal(t, "offline", agents[0].Availability)
}

func TestSetStatusEndpoint(t *testing.T) {
	rig := newConsoleRig(t)

	resp := rig.post(t, "/api/agents/ana/status", statusRequest{Status: "online"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agents []agentView
	rig.getJSON(t, "/api/agents", &agents)
	assert.Equal(t, "available", agents[0].Availability)

	resp = rig.post(t, "/api/agents/ana/status", statusRequest{Status: "sleeping"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginUnknownAgentReturns404(t *testing.T) {
	rig := newConsoleRig(t)

	resp := rig.post(t, "/api/agents/carla/login", struct{}{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendCloseAndConversationView(t *testing.T) {
	rig := newConsoleRig(t)
	require.NoError(t, rig.scheduler.AgentLogin(context.Background(), "ana"))
	id := rig.bringInService(t, "5511999990001@c.us")

	resp := rig.post(t, fmt.Sprintf("/api/conversations/%s/send", id), sendRequest{AgentID: "ana", Text: "Olá, como posso ajudar?"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var conv conversationView
	rig.getJSON(t, fmt.Sprintf("/api/conversations/%s", id), &conv)
	assert.Equal(t, "in_service", conv.Stage)
	assert.Equal(t, "ana", conv.AgentID)
	assert.Equal(t, "Maria", conv.CustomerName)

	var msgs []messageView
	rig.getJSON(t, fmt.Sprintf("/api/conversations/%s/messages", id), &msgs)
	var agentRows int
	for _, m := range msgs {
		if m.Sender == "agent" {
			agentRows++
		}
	}
	assert.Equal(t, 1, agentRows, "agent reply should land in the transcript")

	resp = rig.post(t, fmt.Sprintf("/api/conversations/%s/close", id), closeRequest{AgentID: "ana"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rig.getJSON(t, fmt.Sprintf("/api/conversations/%s", id), &conv)
	assert.Equal(t, "closed", conv.Stage)
}

func TestSendByWrongAgentConflicts(t *testing.T) {
	rig := newConsoleRig(t)
	ctx := context.Background()
	require.NoError(t, rig.scheduler.AgentLogin(ctx, "ana"))
	id := rig.bringInService(t, "5511999990001@c.us")

	resp := rig.post(t, fmt.Sprintf("/api/conversations/%s/send", id), sendRequest{AgentID: "bruno", Text: "oi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTransferEndpoint(t *testing.T) {
	rig := newConsoleRig(t)
	ctx := context.Background()
	require.NoError(t, rig.scheduler.AgentLogin(ctx, "ana"))
	require.NoError(t, rig.scheduler.AgentLogin(ctx, "bruno"))
	id := rig.bringInService(t, "5511999990001@c.us")

	resp := rig.post(t, fmt.Sprintf("/api/conversations/%s/transfer", id), transferRequest{FromAgent: "ana", ToAgent: "bruno"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var conv conversationView
	rig.getJSON(t, fmt.Sprintf("/api/conversations/%s", id), &conv)
	assert.Equal(t, "bruno", conv.AgentID)
}

func TestNotesRoundTrip(t *testing.T) {
	rig := newConsoleRig(t)
	require.NoError(t, rig.scheduler.AgentLogin(context.Background(), "ana"))
	id := rig.bringInService(t, "5511999990001@c.us")

	resp := rig.post(t, fmt.Sprintf("/api/conversations/%s/notes", id), noteRequest{AgentID: "ana", Content: "prefere entrega à tarde"})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var notes []noteView
	rig.getJSON(t, fmt.Sprintf("/api/conversations/%s/notes", id), &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, "ana", notes[0].AgentID)
	assert.Equal(t, "prefere entrega à tarde", notes[0].Content)
}

func TestSocketLoginAssignmentEventAndDisconnectLogout(t *testing.T) {
	rig := newConsoleRig(t)

	wsURL := "ws" + strings.TrimPrefix(rig.ts.URL, "http") + "/ws/agents/ana"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	// The upgrade doubles as a login.
	require.Eventually(t, func() bool {
		var agents []agentView
		rig.getJSON(t, "/api/agents", &agents)
		return agents[0].Availability == "available"
	}, 2*time.Second, 10*time.Millisecond)

	id := rig.bringInService(t, "5511999990001@c.us")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	for {
		require.NoError(t, conn.ReadJSON(&got))
		if got.Type == EventNewAssignment {
			break
		}
	}
	data, err := json.Marshal(got.Data)
	require.NoError(t, err)
	var view conversationView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, "Maria", view.CustomerName)

	require.NoError(t, conn.Close())

	// Dropping the socket must take the agent offline.
	require.Eventually(t, func() bool {
		var agents []agentView
		rig.getJSON(t, "/api/agents", &agents)
		return agents[0].Availability == "offline"
	}, 2*time.Second, 10*time.Millisecond)
}
