package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/httpapi"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/presence"
	"github.com/mahaj/dupahar-chat/pkg/realtime"
	"github.com/mahaj/dupahar-chat/pkg/scheduler"
	"github.com/mahaj/dupahar-chat/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServer serves the api and gateway routes from one test server.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()

	st := storetest.New(t)
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	hub := realtime.NewHub(presence.NewRegistry(), st, nil, logger)
	engine := scheduler.New(st, hub, nil, logger, scheduler.Options{})

	r := httpapi.NewRouter(logger)
	r.POST("/login", httpapi.NewAuthHandler(st, issuer, logger).Login)
	r.GET("/ws", realtime.ServeWS(hub, issuer, logger))
	api := r.Group("/api", auth.RequireUser(issuer))
	httpapi.NewMessageHandler(st, nil, logger).Register(api.Group("/messages"))
	httpapi.NewScheduleHandler(engine, logger).Register(api.Group("/scheduled"))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func loggedIn(t *testing.T, srv *httptest.Server, username string) *apiClient {
	t.Helper()
	c := newAPIClient(srv.URL, srv.URL+"/")
	require.NoError(t, c.login(context.Background(), username))
	require.NotEmpty(t, c.token)
	require.NotEmpty(t, c.userID)
	return c
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := parseWhen("10m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), got)

	got, err = parseWhen("+1h30m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), got)

	got, err = parseWhen("2026-02-01T09:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), got)

	_, err = parseWhen("tomorrow", now)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	frame := func(event model.EventName, payload any) []byte {
		b, err := model.Encode(event, payload)
		require.NoError(t, err)
		return b
	}

	assert.Equal(t, "alice (Scheduled): hi",
		render(frame(model.EventReceive, model.ReceivePayload{From: "a1", Msg: "hi", SenderName: "alice (Scheduled)"}), "a1", "me"))
	assert.Equal(t, "a1: hi", render(frame(model.EventReceive, model.ReceivePayload{From: "a1", Msg: "hi"}), "a1", "me"))
	assert.Equal(t, "a1 is typing...", render(frame(model.EventTyping, model.FromPayload{From: "a1"}), "a1", "me"))
	assert.Equal(t, "message 7 deleted", render(frame(model.EventDeleted, model.DeletedPayload{MsgID: "7"}), "a1", "me"))
	assert.Equal(t, "online: a1, me", render(frame(model.EventOnlineUsers, model.OnlineUsersPayload{Users: []string{"a1", "me"}}), "a1", "me"))
	assert.Empty(t, render(frame(model.EventUserOnline, model.PresencePayload{UserID: "me"}), "a1", "me"))
	assert.Empty(t, render([]byte("garbage"), "a1", "me"))
}

func TestClientAgainstServer(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	alice := loggedIn(t, srv, "alice")
	bob := loggedIn(t, srv, "bob")

	msg, err := alice.addMessage(ctx, bob.userID, "hello bob")
	require.NoError(t, err)
	assert.Equal(t, "hello bob", msg.Body.Text)

	history, err := bob.history(ctx, alice.userID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].FromSelf)

	sm, err := alice.schedule(ctx, bob.userID, "later", time.Now().Add(time.Hour))
	require.NoError(t, err)
	pending, err := alice.pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, sm.ID, pending[0].ID)

	err = bob.cancel(ctx, sm.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")

	require.NoError(t, alice.sendNow(ctx, sm.ID))
	err = alice.cancel(ctx, sm.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_pending")

	n, err := alice.clearChat(ctx, bob.userID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSendCommandPushesToConnectedPeer(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	bob := loggedIn(t, srv, "bob")

	conn, err := dialGateway(ctx, bob)
	require.NoError(t, err)
	defer conn.close()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--api", srv.URL, "--gateway", srv.URL, "--user", "alice", "send", "--to", bob.userID, "psst"})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.True(t, strings.HasPrefix(out.String(), "sent "))

	conn.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ws.ReadMessage()
		require.NoError(t, err)
		if line := render(data, "alice", bob.userID); strings.HasSuffix(line, ": psst") {
			break
		}
	}
}
