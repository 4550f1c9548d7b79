package userinterface

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ConCopilot/concopilot/internal/message"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newBridgeServer(t *testing.T) (*Duplex, *httptest.Server) {
	t.Helper()
	d := newDuplex(t, nil)
	bridge := NewWebBridge(d, DefaultWebBridgeConfig(), nil, logging.Nop())
	srv := httptest.NewServer(bridge.Handler())
	return d, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return conn
}

func TestWebBridgeRelaysMessages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"))

	d, srv := newBridgeServer(t)
	defer srv.Close()
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello there")))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := d.WaitUserMsg(ctx)
	require.NoError(t, err)
	text, _ := msg.Text()
	assert.Equal(t, "hello there", text)
	assert.Equal(t, message.RoleUser, msg.Sender.Role)

	envelope := `{"sender":{"role":"user","name":"bob"},"receiver":{"role":"cerebrum"},"content_type":"text","content":"structured","thrd_id":"t1"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(envelope)))
	msg, err = d.WaitUserMsg(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", msg.Sender.Name)
	assert.Equal(t, "t1", msg.ThreadID)

	require.NoError(t, d.SendMsgUser(message.NewText(cerebrum, userID, "from agent")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, jsonx.Unmarshal(data, &frame))
	assert.Equal(t, "from agent", frame["content"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "error")

	require.NoError(t, conn.Close())
	srv.Close()
}

func TestWebBridgeSingleClient(t *testing.T) {
	_, srv := newBridgeServer(t)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebBridgeHealthAndMetrics(t *testing.T) {
	d, srv := newBridgeServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, jsonx.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, "ok", body["status"])

	d.Interrupt()
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, jsonx.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, "interrupted", body["status"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDecodeFrame(t *testing.T) {
	_, err := decodeFrame([]byte("   "))
	assert.ErrorIs(t, err, message.ErrInvalidMessage)

	msg, err := decodeFrame([]byte(`{"content":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, message.RoleUser, msg.Sender.Role)
}

func TestWebBridgeStartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newDuplex(t, nil)
	cfg := DefaultWebBridgeConfig()
	cfg.Address = "127.0.0.1:0"
	bridge := NewWebBridge(d, cfg, nil, logging.Nop())
	require.NoError(t, bridge.Start())
	assert.Error(t, bridge.Start())
	assert.NotEmpty(t, bridge.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bridge.Shutdown(ctx))
}
