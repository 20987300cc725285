package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
	"github.com/MeKo-Tech/mapwarp/internal/surface"
)

// mockWebSocketConn implements WebSocketConnWriter for testing.
type mockWebSocketConn struct {
	mu       sync.Mutex
	messages []mockMessage
	err      error
}

type mockMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, mockMessage{messageType: messageType, data: data})
	return nil
}

func (m *mockWebSocketConn) getSentMessages() []mockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockMessage(nil), m.messages...)
}

func send(t *testing.T, sess *session, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	sess.handleMessage(data)
}

func newPlaneSession(t *testing.T) (*session, *fakeLoader) {
	t.Helper()
	s, fl := newTestServer(t)
	sess := newSession(s, surface.NewPlane())
	t.Cleanup(sess.cleanup)
	return sess, fl
}

func rect(x, y, w, h float64) *geometry.Quad {
	q := geometry.RectQuad(x, y, w, h)
	return &q
}

func findStyle(t *testing.T, msgs []ServerMessage, id string) StyleDTO {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == msgStyle && msgs[i].ID == id {
			return *msgs[i].Style
		}
	}
	require.Failf(t, "no style", "no style for %q in %+v", id, msgs)
	return StyleDTO{}
}

func TestSession_AddRepositionRemove(t *testing.T) {
	sess, _ := newPlaneSession(t)

	send(t, sess, ClientMessage{Type: msgAdd, ID: "a", Width: 200, Height: 100, Corners: rect(0, 0, 100, 50), Opacity: overlay.Opacity(0.5)})
	msgs := sess.out.drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, ServerMessage{Type: msgAck, ID: "a", Reply: msgAdd}, msgs[0])
	st := findStyle(t, msgs, "a")
	assert.True(t, st.Visible)
	assert.InDelta(t, 100, st.Width, 1e-9)
	require.NotNil(t, st.Projection)
	assert.InDelta(t, 0.5, st.Projection[0], 1e-9)

	send(t, sess, ClientMessage{Type: msgAdd, ID: "a", Width: 1, Height: 1, Corners: rect(0, 0, 1, 1)})
	msgs = sess.out.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgError, msgs[0].Type)
	assert.Equal(t, "duplicate_id", msgs[0].ErrorType)

	send(t, sess, ClientMessage{Type: msgReposition, ID: "a", Corners: rect(20, 30, 100, 50)})
	st = findStyle(t, sess.out.drain(), "a")
	assert.InDelta(t, 20, st.Left, 1e-9)
	assert.InDelta(t, 30, st.Top, 1e-9)

	send(t, sess, ClientMessage{Type: msgList})
	msgs = sess.out.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"a"}, msgs[0].IDs)

	send(t, sess, ClientMessage{Type: msgRemove, ID: "a"})
	msgs = sess.out.drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, ServerMessage{Type: msgRemoved, ID: "a"}, msgs[0])
	assert.Equal(t, msgAck, msgs[1].Type)
	assert.Zero(t, sess.overlays.Len())

	send(t, sess, ClientMessage{Type: msgRemove, ID: "a"})
	msgs = sess.out.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, "not_found", msgs[0].ErrorType)
}

func TestSession_ViewAndPan(t *testing.T) {
	sess, _ := newPlaneSession(t)

	send(t, sess, ClientMessage{Type: msgAdd, ID: "a", Width: 10, Height: 10, Corners: rect(0, 0, 10, 10)})
	sess.out.drain()

	send(t, sess, ClientMessage{Type: msgPan, DX: 15, DY: -5})
	st := findStyle(t, sess.out.drain(), "a")
	assert.InDelta(t, 15, st.Left, 1e-9)
	assert.InDelta(t, -5, st.Top, 1e-9)

	send(t, sess, ClientMessage{Type: msgView, Scale: 2, Offset: &geometry.Point{X: 1, Y: 2}})
	st = findStyle(t, sess.out.drain(), "a")
	assert.InDelta(t, 1, st.Left, 1e-9)
	assert.InDelta(t, 20, st.Width, 1e-9)

	send(t, sess, ClientMessage{Type: msgView, Scale: 0})
	msgs := sess.out.drain()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Error, "scale must be positive")
}

func TestSession_MercatorView(t *testing.T) {
	s, _ := newTestServer(t)
	surf, err := surfaceFromQuery(url.Values{"surface": {"mercator"}, "width": {"512"}, "height": {"512"}})
	require.NoError(t, err)
	sess := newSession(s, surf)
	t.Cleanup(sess.cleanup)

	corners := geometry.NewQuad(geometry.Pt(-10, 10), geometry.Pt(10, 10), geometry.Pt(10, -10), geometry.Pt(-10, -10))
	send(t, sess, ClientMessage{Type: msgAdd, ID: "m", Width: 100, Height: 100, Corners: &corners})
	before := findStyle(t, sess.out.drain(), "m")
	assert.True(t, before.Visible)
	assert.InDelta(t, 256*20.0/360, before.Width, 1e-9)

	zoom := 1.0
	send(t, sess, ClientMessage{Type: msgView, Zoom: &zoom})
	after := findStyle(t, sess.out.drain(), "m")
	assert.InDelta(t, 2, after.Width/before.Width, 1e-9)

	send(t, sess, ClientMessage{Type: msgView, Size: &geometry.Extent{}})
	msgs := sess.out.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgError, msgs[0].Type)
}

func TestSession_DeferredLoad(t *testing.T) {
	sess, fl := newPlaneSession(t)
	fl.block = make(chan struct{})

	send(t, sess, ClientMessage{Type: msgAdd, ID: "b", Source: "http://img/map/info.json", Corners: rect(0, 0, 400, 300)})
	msgs := sess.out.drain()
	st := findStyle(t, msgs, "b")
	assert.True(t, st.Deferred)
	assert.False(t, st.Visible)
	assert.Nil(t, st.Projection)
	assert.Empty(t, st.Transform)

	close(fl.block)
	require.Eventually(t, func() bool {
		for _, m := range sess.out.drain() {
			if m.Type == msgStyle && m.ID == "b" && m.Style.Visible {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	o, ok := sess.overlays.Get("b")
	require.True(t, ok)
	assert.Equal(t, geometry.Extent{Width: 800, Height: 600}, o.Extent())
}

func TestSession_LoadError(t *testing.T) {
	sess, _ := newPlaneSession(t)

	send(t, sess, ClientMessage{Type: msgAdd, ID: "c", Source: "http://img/missing.png", Corners: rect(0, 0, 10, 10)})

	var loadErr ServerMessage
	require.Eventually(t, func() bool {
		for _, m := range sess.out.drain() {
			if m.Type == msgLoadError {
				loadErr = m
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "c", loadErr.ID)
	assert.Contains(t, loadErr.Error, "404")

	o, ok := sess.overlays.Get("c")
	require.True(t, ok)
	var lerr *overlay.LoadError
	assert.ErrorAs(t, o.LoadErr(), &lerr)
}

func TestSession_InvalidMessages(t *testing.T) {
	sess, _ := newPlaneSession(t)

	tests := []struct {
		name string
		data string
		want string
	}{
		{"bad json", "{", "failed to parse message"},
		{"unknown type", `{"type":"explode"}`, "unsupported message type"},
		{"add without id", `{"type":"add","width":1,"height":1,"corners":{}}`, "id is required"},
		{"add without corners", `{"type":"add","id":"x","width":1,"height":1}`, "corners are required"},
		{"add without source", `{"type":"add","id":"x","corners":{}}`, "source or width and height required"},
		{"add local source", `{"type":"add","id":"x","source":"file:///etc/passwd","corners":{}}`, "http(s) URL"},
		{"add bad opacity", `{"type":"add","id":"x","width":1,"height":1,"opacity":3,"corners":{}}`, "opacity"},
		{"add bad selector", `{"type":"add","id":"x","width":1,"height":1,"selector":"nope","corners":{}}`, "invalid selector"},
		{"reposition unknown", `{"type":"reposition","id":"zz","corners":{}}`, "overlay not found"},
		{"retry unknown", `{"type":"retry","id":"zz"}`, "overlay not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess.handleMessage([]byte(tt.data))
			msgs := sess.out.drain()
			require.Len(t, msgs, 1)
			assert.Equal(t, msgError, msgs[0].Type)
			assert.Contains(t, msgs[0].Error, tt.want)
		})
	}
}

func TestSession_SelectorClipPath(t *testing.T) {
	sess, _ := newPlaneSession(t)

	send(t, sess, ClientMessage{
		Type: msgAdd, ID: "s", Width: 100, Height: 100, Corners: rect(0, 0, 100, 100),
		Selector: `<svg><polygon points="0,0 100,0 100,100 0,100"/></svg>`,
	})
	sess.out.drain()

	o, ok := sess.overlays.Get("s")
	require.True(t, ok)
	assert.Equal(t, "polygon(0 0, 100% 0, 100% 100%, 0 100%)", o.Element().ClipPath)
}

func TestSession_ZeroOpacity(t *testing.T) {
	sess, _ := newPlaneSession(t)

	msg := ClientMessage{Corners: rect(0, 0, 10, 10)}
	require.NoError(t, json.Unmarshal([]byte(`{"type":"add","id":"z","width":10,"height":10,"opacity":0}`), &msg))
	send(t, sess, msg)
	sess.out.drain()

	o, ok := sess.overlays.Get("z")
	require.True(t, ok)
	assert.Equal(t, 0.0, o.Element().Opacity)
}

func TestOutbox_Coalesces(t *testing.T) {
	out := newOutbox()
	el := &overlay.Element{ID: "a"}
	other := &overlay.Element{ID: "b"}

	out.Applied(el, overlay.Style{Left: 1})
	out.Applied(other, overlay.Style{Left: 5})
	out.Applied(el, overlay.Style{Left: 2})
	assert.Equal(t, 2, out.pending())

	msgs := out.drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.InDelta(t, 2, msgs[0].Style.Left, 0)
	assert.Equal(t, "b", msgs[1].ID)

	// A removal drops the pending style and is queued instead.
	out.Applied(el, overlay.Style{Left: 3})
	out.Removed(el)
	msgs = out.drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, ServerMessage{Type: msgRemoved, ID: "a"}, msgs[0])

	out.close()
	out.Applied(el, overlay.Style{})
	out.push(ServerMessage{Type: msgAck})
	assert.Zero(t, out.pending())
}

func TestOutbox_WakeIsNonBlocking(t *testing.T) {
	out := newOutbox()
	for range 10 {
		out.push(ServerMessage{Type: msgAck})
	}
	assert.Len(t, out.wake, 1)
	assert.Len(t, out.drain(), 10)
}

func TestSendWebSocketMessage(t *testing.T) {
	conn := &mockWebSocketConn{}
	require.NoError(t, sendWebSocketMessage(conn, ServerMessage{Type: msgAck, ID: "a", Reply: msgAdd}))

	messages := conn.getSentMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, websocket.TextMessage, messages[0].messageType)
	assert.JSONEq(t, `{"type":"ack","id":"a","reply":"add"}`, string(messages[0].data))

	conn.err = errors.New("broken pipe")
	assert.Error(t, sendWebSocketMessage(conn, ServerMessage{Type: msgAck}))
}

func TestSurfaceFromQuery(t *testing.T) {
	surf, err := surfaceFromQuery(url.Values{})
	require.NoError(t, err)
	assert.IsType(t, &surface.Plane{}, surf)

	surf, err = surfaceFromQuery(url.Values{"surface": {"mercator"}, "lat": {"52.5"}, "lon": {"13.4"}, "zoom": {"10"}})
	require.NoError(t, err)
	m, ok := surf.(*surface.Mercator)
	require.True(t, ok)
	center, zoom, size := m.View()
	assert.Equal(t, geometry.Pt(13.4, 52.5), center)
	assert.InDelta(t, 10, zoom, 0)
	assert.Equal(t, geometry.Extent{Width: 1024, Height: 768}, size)

	for _, q := range []url.Values{
		{"surface": {"globe"}},
		{"surface": {"mercator"}, "width": {"-1"}},
		{"surface": {"mercator"}, "height": {"tall"}},
		{"surface": {"mercator"}, "zoom": {"x"}},
	} {
		_, err := surfaceFromQuery(q)
		assert.Error(t, err, q.Encode())
	}
}

func TestServer_CheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/overlay/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := &Server{corsOrigin: "*"}
	assert.True(t, open.checkOrigin(req("http://example.com")))

	strict := &Server{corsOrigin: "https://app.example"}
	assert.True(t, strict.checkOrigin(req("https://app.example")))
	assert.True(t, strict.checkOrigin(req("")))
	assert.False(t, strict.checkOrigin(req("https://evil.example")))
}

func TestOverlayWebSocket_EndToEnd(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/overlay/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: msgAdd, ID: "e", Width: 200, Height: 100, Corners: rect(5, 5, 100, 50)}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var style *StyleDTO
	for style == nil {
		var m ServerMessage
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == msgStyle && m.ID == "e" {
			style = m.Style
		}
	}
	assert.True(t, style.Visible)
	assert.InDelta(t, 5, style.Left, 1e-9)

	// Closing the server ends the session.
	require.NoError(t, s.Close())
	for {
		var m ServerMessage
		if err := conn.ReadJSON(&m); err != nil {
			break
		}
	}
}

func TestOverlayWebSocket_BadSurface(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s.Handler(), http.MethodGet, "/v1/overlay/ws?surface=globe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
