package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/mapwarp/internal/loader"
	"github.com/MeKo-Tech/mapwarp/internal/render"
	"github.com/MeKo-Tech/mapwarp/internal/selector"
	"github.com/MeKo-Tech/mapwarp/internal/server"
)

const wsReadTimeout = 5 * time.Second

// theImageHostIsRunning serves the scenario temp directory over HTTP.
func (testCtx *TestContext) theImageHostIsRunning() error {
	if testCtx.ImageHost == nil {
		testCtx.ImageHost = httptest.NewServer(http.FileServer(http.Dir(testCtx.TempDir)))
	}
	return nil
}

// theServerIsRunning starts the real API handler on an httptest server.
func (testCtx *TestContext) theServerIsRunning() error {
	return testCtx.startServer(server.RateLimitConfig{})
}

// theServerIsRunningWithRateLimit starts the server with a per-minute limit.
func (testCtx *TestContext) theServerIsRunningWithRateLimit(perMinute int) error {
	return testCtx.startServer(server.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute})
}

func (testCtx *TestContext) startServer(rl server.RateLimitConfig) error {
	if testCtx.HTTPServer != nil {
		return errors.New("server is already running")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api, err := server.NewServer(server.Config{
		CORSOrigin:   "*",
		MaxBodyBytes: 1 << 20,
		Timeout:      10 * time.Second,
		Extract:      selector.DefaultConfig(),
		Render:       render.Options{Sampling: render.Bilinear},
		Loader:       loader.New(loader.DefaultConfig(), loader.WithLogger(logger)),
		RateLimit:    rl,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	testCtx.APIServer = api
	testCtx.HTTPServer = httptest.NewServer(api.Handler())
	return nil
}

// StopServer closes the overlay session, the API server and its listener.
func (testCtx *TestContext) StopServer() error {
	var errs []error
	if testCtx.WSConn != nil {
		errs = append(errs, testCtx.WSConn.Close())
		testCtx.WSConn = nil
	}
	if testCtx.APIServer != nil {
		errs = append(errs, testCtx.APIServer.Close())
		testCtx.APIServer = nil
	}
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	return errors.Join(errs...)
}

func (testCtx *TestContext) makeHTTPRequest(method, endpoint string, body []byte) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, testCtx.HTTPServer.URL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iGET(endpoint string) error {
	return testCtx.makeHTTPRequest(http.MethodGet, endpoint, nil)
}

func (testCtx *TestContext) iPOSTTo(endpoint string, body *godog.DocString) error {
	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, []byte(testCtx.substitute(body.Content)))
}

func (testCtx *TestContext) iPOSTToTimes(endpoint string, n int, body *godog.DocString) error {
	for range n {
		if err := testCtx.iPOSTTo(endpoint, body); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(expected int) error {
	if testCtx.LastHTTPStatusCode != expected {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", expected, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != want {
		return fmt.Errorf("header %s = %q, want %q", name, got, want)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, want string) error {
	return checkJSONField(testCtx.LastHTTPResponse, field, testCtx.substitute(want))
}

func (testCtx *TestContext) theResponseJSONNumberShouldBe(field string, want float64) error {
	return checkJSONNumber(testCtx.LastHTTPResponse, field, want)
}

// iOpenAnOverlaySession dials the WebSocket endpoint with an optional query.
func (testCtx *TestContext) iOpenAnOverlaySession(query string) error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	url := "ws" + strings.TrimPrefix(testCtx.HTTPServer.URL, "http") + "/v1/overlay/ws"
	if query != "" {
		url += "?" + query
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to open overlay session: %w", err)
	}
	testCtx.WSConn = conn
	return nil
}

func (testCtx *TestContext) iOpenAPlaneOverlaySession() error {
	return testCtx.iOpenAnOverlaySession("")
}

// iSendTheMessage writes a raw JSON message to the session.
func (testCtx *TestContext) iSendTheMessage(body *godog.DocString) error {
	if testCtx.WSConn == nil {
		return errors.New("no overlay session")
	}
	return testCtx.WSConn.WriteMessage(websocket.TextMessage, []byte(testCtx.substitute(body.Content)))
}

// readUntil reads session messages until match accepts one. Every style
// message seen on the way is recorded.
func (testCtx *TestContext) readUntil(match func(server.ServerMessage) bool) (*server.ServerMessage, error) {
	if testCtx.WSConn == nil {
		return nil, errors.New("no overlay session")
	}
	_ = testCtx.WSConn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	for {
		var m server.ServerMessage
		if err := testCtx.WSConn.ReadJSON(&m); err != nil {
			return nil, fmt.Errorf("failed to read session message: %w", err)
		}
		if m.Type == "style" && m.Style != nil {
			testCtx.LastStyles[m.ID] = *m.Style
		}
		if match(m) {
			testCtx.LastWSMsg = &m
			return &m, nil
		}
	}
}

// iShouldReceiveAMessageFor waits for a message of the given type and id.
func (testCtx *TestContext) iShouldReceiveAMessageFor(msgType, id string) error {
	_, err := testCtx.readUntil(func(m server.ServerMessage) bool {
		return m.Type == msgType && m.ID == id
	})
	return err
}

// iShouldReceiveAVisibleStyleFor waits until the overlay becomes visible.
func (testCtx *TestContext) iShouldReceiveAVisibleStyleFor(id string) error {
	_, err := testCtx.readUntil(func(m server.ServerMessage) bool {
		return m.Type == "style" && m.ID == id && m.Style != nil && m.Style.Visible
	})
	return err
}

// iShouldReceiveAnErrorOfType waits for an error message with error_type.
func (testCtx *TestContext) iShouldReceiveAnErrorOfType(errType string) error {
	_, err := testCtx.readUntil(func(m server.ServerMessage) bool {
		return m.Type == "error" && m.ErrorType == errType
	})
	return err
}

func (testCtx *TestContext) theStyleOfShouldHave(id, field string, want float64) error {
	st, ok := testCtx.LastStyles[id]
	if !ok {
		return fmt.Errorf("no style received for %q", id)
	}
	bts, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return checkJSONNumber(string(bts), field, want)
}

func (testCtx *TestContext) theLastMessageShouldMention(text string) error {
	if testCtx.LastWSMsg == nil {
		return errors.New("no session message received")
	}
	bts, _ := json.Marshal(testCtx.LastWSMsg)
	if !strings.Contains(string(bts), text) {
		return fmt.Errorf("message %s does not mention %q", bts, text)
	}
	return nil
}

// RegisterServerSteps registers the HTTP and overlay session steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the image host is running$`, testCtx.theImageHostIsRunning)
	sc.Step(`^the server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^the server is stopped$`, testCtx.StopServer)
	sc.Step(`^the server is running with a limit of (\d+) requests per minute$`, testCtx.theServerIsRunningWithRateLimit)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST to "([^"]*)":$`, testCtx.iPOSTTo)
	sc.Step(`^I POST to "([^"]*)" (\d+) times:$`, testCtx.iPOSTToTimes)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response JSON number "([^"]*)" should be (-?[\d.]+)$`, testCtx.theResponseJSONNumberShouldBe)

	sc.Step(`^I open an overlay session$`, testCtx.iOpenAPlaneOverlaySession)
	sc.Step(`^I open an overlay session with "([^"]*)"$`, testCtx.iOpenAnOverlaySession)
	sc.Step(`^I send the message:$`, testCtx.iSendTheMessage)
	sc.Step(`^I should receive an? "([^"]*)" message for "([^"]*)"$`, testCtx.iShouldReceiveAMessageFor)
	sc.Step(`^I should receive a visible style for "([^"]*)"$`, testCtx.iShouldReceiveAVisibleStyleFor)
	sc.Step(`^I should receive an error of type "([^"]*)"$`, testCtx.iShouldReceiveAnErrorOfType)
	sc.Step(`^the style of "([^"]*)" should have "([^"]*)" (-?[\d.]+)$`, testCtx.theStyleOfShouldHave)
	sc.Step(`^the last message should mention "([^"]*)"$`, testCtx.theLastMessageShouldMention)
}
