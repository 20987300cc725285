package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
	"github.com/MeKo-Tech/mapwarp/internal/surface"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Message types of the overlay session protocol.
const (
	msgAdd        = "add"
	msgReposition = "reposition"
	msgRemove     = "remove"
	msgRetry      = "retry"
	msgView       = "view"
	msgPan        = "pan"
	msgList       = "list"

	msgStyle     = "style"
	msgRemoved   = "removed"
	msgAck       = "ack"
	msgError     = "error"
	msgLoadError = "load_error"
)

// WebSocket upgrader with reasonable defaults. The origin check is installed
// per server from its CORS origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ClientMessage is a request from an overlay session client.
type ClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// add
	Source      string         `json:"source,omitempty"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
	Corners     *geometry.Quad `json:"corners,omitempty"`
	Opacity     *float64       `json:"opacity,omitempty"`
	Interactive bool           `json:"interactive,omitempty"`
	ClipPath    string         `json:"clip_path,omitempty"`
	Selector    string         `json:"selector,omitempty"`

	// view: Scale and Offset on a plane, Center and Zoom on a map
	Scale  float64          `json:"scale,omitempty"`
	Offset *geometry.Point  `json:"offset,omitempty"`
	Center *geometry.Point  `json:"center,omitempty"`
	Zoom   *float64         `json:"zoom,omitempty"`
	Size   *geometry.Extent `json:"size,omitempty"`

	// pan
	DX float64 `json:"dx,omitempty"`
	DY float64 `json:"dy,omitempty"`
}

// ServerMessage is pushed to overlay session clients.
type ServerMessage struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Reply     string    `json:"reply,omitempty"`
	Style     *StyleDTO `json:"style,omitempty"`
	IDs       []string  `json:"ids,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// sessionSurface is what a session needs from its host surface.
type sessionSurface interface {
	overlay.Surface
	SetSink(s surface.Sink)
	PanBy(dx, dy float64)
}

// session is one live overlay connection: a surface, the overlays attached
// to it and the outbox that streams their styles. Messages are handled on
// the reader goroutine only.
type session struct {
	srv      *Server
	surface  sessionSurface
	overlays *overlay.Registry
	out      *outbox

	done      chan struct{}
	closeOnce sync.Once
	closeConn func()
}

func newSession(srv *Server, surf sessionSurface) *session {
	s := &session{
		srv:      srv,
		surface:  surf,
		overlays: overlay.NewRegistry(),
		out:      newOutbox(),
		done:     make(chan struct{}),
	}
	surf.SetSink(s.out)
	return s
}

// close asks the connection to end; cleanup runs once the reader returns.
func (s *session) close() {
	if s.closeConn != nil {
		s.closeConn()
	}
}

// cleanup detaches every overlay and stops the writer.
func (s *session) cleanup() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.out.close()
		s.surface.SetSink(nil)
		n := s.overlays.Len()
		s.overlays.Close()
		overlaysActive.Sub(float64(n))
	})
}

// overlayWebSocketHandler serves a live overlay session. The surface is
// chosen with ?surface=plane (default) or ?surface=mercator with optional
// width, height, lat, lon and zoom.
func (s *Server) overlayWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	surf, err := surfaceFromQuery(r.URL.Query())
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	u := upgrader
	u.CheckOrigin = s.checkOrigin
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		s.log().Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	sess := newSession(s, surf)
	sess.closeConn = func() { _ = conn.Close() }
	s.track(sess)
	defer s.untrack(sess)

	s.log().Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "surface", r.URL.Query().Get("surface"))

	go sess.writeLoop(conn)
	sess.readLoop(conn)
	sess.cleanup()
}

// checkOrigin accepts any origin when CORS is open, otherwise only the
// configured one. Requests without an Origin header are not from browsers.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin
}

func (s *session) readLoop(conn *websocket.Conn) {
	// Set read deadline to prevent hanging connections
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.srv.log().Error("WebSocket error", "error", err)
			}
			return
		}

		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleMessage(data)
		}
	}
}

// writeLoop is the only writer of data frames. It flushes the outbox on
// every wake-up and pings the client periodically.
func (s *session) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.out.wake:
			for _, m := range s.out.drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := sendWebSocketMessage(conn, m); err != nil {
					s.close()
					return
				}
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		}
	}
}

func sendWebSocketMessage(conn WebSocketConnWriter, m ServerMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", m.Type, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

// handleMessage applies one client message and queues its ack or error.
func (s *session) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.out.push(ServerMessage{Type: msgError, ErrorType: "invalid_request", Error: fmt.Sprintf("failed to parse message: %v", err)})
		return
	}

	var err error
	switch msg.Type {
	case msgAdd:
		err = s.add(msg)
	case msgReposition:
		err = s.reposition(msg)
	case msgRemove:
		err = s.overlays.Remove(msg.ID)
		if err == nil {
			overlaysActive.Dec()
		}
	case msgRetry:
		err = s.withOverlay(msg.ID, func(o *overlay.Overlay) error { return o.Retry() })
	case msgView:
		err = s.view(msg)
	case msgPan:
		s.surface.PanBy(msg.DX, msg.DY)
	case msgList:
		s.out.push(ServerMessage{Type: msgList, IDs: s.overlays.IDs()})
		return
	default:
		err = fmt.Errorf("unsupported message type %q", msg.Type)
	}

	if err != nil {
		s.out.push(ServerMessage{Type: msgError, ID: msg.ID, Reply: msg.Type, ErrorType: errorType(err), Error: err.Error()})
		return
	}
	s.out.push(ServerMessage{Type: msgAck, ID: msg.ID, Reply: msg.Type})
}

func (s *session) add(msg ClientMessage) error {
	if msg.ID == "" {
		return errors.New("id is required")
	}
	if msg.Corners == nil {
		return errors.New("corners are required")
	}
	if msg.Opacity != nil && (*msg.Opacity < 0 || *msg.Opacity > 1) {
		return fmt.Errorf("opacity must be in [0,1], got %v", *msg.Opacity)
	}

	var src overlay.ImageSource
	if ext := (geometry.Extent{Width: msg.Width, Height: msg.Height}); ext.Known() {
		src = overlay.FromExtent(msg.Source, ext)
	} else {
		if msg.Source == "" {
			return errors.New("source or width and height required")
		}
		if err := s.srv.checkSource(msg.Source); err != nil {
			return err
		}
		src = overlay.FromURL(msg.Source)
	}

	clip := msg.ClipPath
	if msg.Selector != "" {
		res, err := s.srv.extractor.ExtractString(msg.Selector)
		if err != nil {
			return err
		}
		clip = res.ClipPath
	}

	id := msg.ID
	q := *msg.Corners
	o := overlay.New(src, q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft, overlay.Options{
		ID:          id,
		Opacity:     msg.Opacity,
		Interactive: msg.Interactive,
		ClipPath:    clip,
		Loader:      s.srv.loader,
		OnLoadError: func(err error) {
			overlayLoadErrors.Inc()
			s.srv.log().Warn("Overlay load failed", "id", id, "error", err)
			s.out.push(ServerMessage{Type: msgLoadError, ID: id, Error: err.Error()})
		},
	})
	if err := s.overlays.Add(o); err != nil {
		return err
	}
	if err := o.Attach(s.surface); err != nil {
		_ = s.overlays.Remove(id)
		return err
	}
	overlaysActive.Inc()
	return nil
}

func (s *session) reposition(msg ClientMessage) error {
	if msg.Corners == nil {
		return errors.New("corners are required")
	}
	q := *msg.Corners
	return s.withOverlay(msg.ID, func(o *overlay.Overlay) error {
		o.Reposition(q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft)
		return nil
	})
}

func (s *session) withOverlay(id string, fn func(o *overlay.Overlay) error) error {
	o, ok := s.overlays.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", overlay.ErrNotFound, id)
	}
	return fn(o)
}

func (s *session) view(msg ClientMessage) error {
	switch surf := s.surface.(type) {
	case *surface.Plane:
		if msg.Scale <= 0 {
			return fmt.Errorf("scale must be positive, got %v", msg.Scale)
		}
		var offset geometry.Point
		if msg.Offset != nil {
			offset = *msg.Offset
		}
		surf.SetTransform(msg.Scale, offset)
	case *surface.Mercator:
		center, zoom, _ := surf.View()
		if msg.Center != nil {
			center = *msg.Center
		}
		if msg.Zoom != nil {
			zoom = *msg.Zoom
		}
		if msg.Size != nil {
			if !msg.Size.Known() {
				return fmt.Errorf("invalid viewport size %s", msg.Size)
			}
			surf.Resize(*msg.Size)
		}
		surf.SetView(center, zoom)
	default:
		return fmt.Errorf("surface %T has no view", s.surface)
	}
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, overlay.ErrNotFound):
		return "not_found"
	case errors.Is(err, overlay.ErrDuplicateID):
		return "duplicate_id"
	default:
		return "invalid_request"
	}
}

// surfaceFromQuery builds the session surface from the upgrade request.
func surfaceFromQuery(q url.Values) (sessionSurface, error) {
	switch kind := q.Get("surface"); kind {
	case "", "plane":
		return surface.NewPlane(), nil
	case "mercator":
		w, err := intParam(q, "width", 1024)
		if err != nil {
			return nil, err
		}
		h, err := intParam(q, "height", 768)
		if err != nil {
			return nil, err
		}
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("invalid viewport size %dx%d", w, h)
		}
		var ll [3]float64
		for i, name := range []string{"lon", "lat", "zoom"} {
			if ll[i], err = floatParam(q, name); err != nil {
				return nil, err
			}
		}
		return surface.NewMercator(geometry.Extent{Width: w, Height: h}, geometry.Pt(ll[0], ll[1]), ll[2]), nil
	default:
		return nil, fmt.Errorf("unknown surface %q (must be plane or mercator)", kind)
	}
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func floatParam(q url.Values, name string) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return f, nil
}
