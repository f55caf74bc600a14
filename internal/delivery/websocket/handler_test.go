package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
	"perp-backend/internal/repository"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var e domain.Event
	require.NoError(t, json.Unmarshal(msg, &e))
	return e
}

func TestHubReplaysBacklogThenStreams(t *testing.T) {
	ctx := context.Background()
	log := repository.NewInMemoryEventLog(10)
	require.NoError(t, log.Append(ctx, domain.Event{Kind: domain.EventOrderPlaced, Symbol: "BTCUSDT"}))
	require.NoError(t, log.Append(ctx, domain.Event{Kind: domain.EventOrderFilled, Symbol: "BTCUSDT"}))

	hub := NewHub(log, quietLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	defer srv.Close()

	conn := dial(t, srv)
	assert.Equal(t, domain.EventOrderPlaced, readEvent(t, conn).Kind)
	assert.Equal(t, domain.EventOrderFilled, readEvent(t, conn).Kind)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(ctx, domain.Event{Kind: domain.EventPositionClosed, Symbol: "ETHUSDT", Message: "position closed"}))

	e := readEvent(t, conn)
	assert.Equal(t, domain.EventPositionClosed, e.Kind)
	assert.Equal(t, "ETHUSDT", e.Symbol)
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub(nil, quietLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.Handle))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, hub.Publish(context.Background(), domain.Event{Kind: domain.EventError}))
}
