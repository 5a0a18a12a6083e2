package ws

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

// stubBrowser is a BrowserSession that records the calls the socket drives.
type stubBrowser struct {
	mu       sync.Mutex
	url      string
	viewport session.Viewport
	moves    int
	cursor   string
	handler  session.FrameHandler
	acks     []int64
	closed   bool
}

func (b *stubBrowser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = url
	return nil
}

func (b *stubBrowser) GoBack(context.Context) error { return nil }

func (b *stubBrowser) SetViewport(_ context.Context, v session.Viewport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewport = v
	return nil
}

func (b *stubBrowser) MouseDown(context.Context, session.MouseButton) error { return nil }

func (b *stubBrowser) MouseMove(context.Context, float64, float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moves++
	return nil
}

func (b *stubBrowser) MouseUp(context.Context) error { return nil }
func (b *stubBrowser) Wheel(context.Context, float64) error { return nil }
func (b *stubBrowser) KeyDown(context.Context, string) error { return nil }
func (b *stubBrowser) KeyUp(context.Context, string) error { return nil }
func (b *stubBrowser) StopScreencast(context.Context) error { return nil }

func (b *stubBrowser) CursorAt(context.Context, float64, float64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor, nil
}

func (b *stubBrowser) StartScreencast(_ context.Context, _ session.ScreencastOptions, handler session.FrameHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *stubBrowser) AckScreencastFrame(_ context.Context, token int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, token)
	return nil
}

func (b *stubBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *stubBrowser) emit(data string, token int64) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(session.ScreencastFrame{Data: data, AckToken: token})
	}
}

func (b *stubBrowser) streaming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler != nil
}

func (b *stubBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type stubProvisioner struct {
	browser *stubBrowser
}

func (p stubProvisioner) Provision(_ context.Context, _ id.SessionID, viewport session.Viewport) (session.BrowserSession, error) {
	p.browser.mu.Lock()
	p.browser.viewport = viewport
	p.browser.mu.Unlock()
	return p.browser, nil
}

type testServer struct {
	*httptest.Server
	browser  *stubBrowser
	manager  *session.Manager
	registry *session.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	browser := &stubBrowser{cursor: "pointer"}
	registry := session.NewRegistry(nil)
	manager := session.NewManager(stubProvisioner{browser: browser}, registry, session.DefaultOptions(), zap.NewNop())

	handler := NewHandler(manager, Config{
		Defaults:     session.ParamDefaults{EveryNthFrame: session.DefaultEveryNthFrame},
		WriteTimeout: time.Second,
	}, zap.NewNop())

	router := gin.New()
	router.GET("/renderer", handler.HandleConnection)

	srv := &testServer{
		Server:   httptest.NewServer(router),
		browser:  browser,
		manager:  manager,
		registry: registry,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = manager.Shutdown(ctx)
		srv.Close()
	})
	return srv
}

func (s *testServer) rendererURL(target string, width, height string) string {
	query := url.Values{}
	query.Set("target_url", base64.StdEncoding.EncodeToString([]byte(target)))
	query.Set("target_width", width)
	query.Set("target_height", height)
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/renderer?" + query.Encode()
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	client, resp, err := websocket.DefaultDialer.Dial(s.rendererURL("https://example.com", "800", "600"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	return client
}

func readText(t *testing.T, client *websocket.Conn) string {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(waitFor)))
	messageType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

func TestRendererStreamsFramesAndCursor(t *testing.T) {
	srv := newTestServer(t)
	client := srv.dial(t)
	defer client.Close()

	require.Eventually(t, srv.browser.streaming, waitFor, time.Millisecond)

	srv.browser.mu.Lock()
	assert.Equal(t, "https://example.com", srv.browser.url)
	assert.Equal(t, session.Viewport{Width: 800, Height: 600}, srv.browser.viewport)
	srv.browser.mu.Unlock()

	srv.browser.emit("ZnJhbWU=", 42)
	assert.JSONEq(t, `{"frame":"ZnJhbWU="}`, readText(t, client))

	require.NoError(t, client.WriteMessage(websocket.TextMessage,
		[]byte(`{"category":"event","data":{"type":"mousemove","x":10,"y":20}}`)))
	assert.JSONEq(t, `{"cursor":"pointer"}`, readText(t, client))

	srv.browser.mu.Lock()
	assert.Equal(t, []int64{42}, srv.browser.acks)
	srv.browser.mu.Unlock()
}

func TestRendererWithoutCaptureBridge(t *testing.T) {
	srv := newTestServer(t)
	client := srv.dial(t)
	defer client.Close()

	require.Eventually(t, srv.browser.streaming, waitFor, time.Millisecond)
	infos := srv.manager.List()
	require.Len(t, infos, 1)

	// no capture bridge is configured, so nothing is routed
	assert.False(t, srv.registry.Route(session.CaptureChunk{SessionID: infos[0].ID, Data: []byte{1}}))
}

func TestRendererClientCloseReleasesSession(t *testing.T) {
	srv := newTestServer(t)
	client := srv.dial(t)

	require.Eventually(t, srv.browser.streaming, waitFor, time.Millisecond)
	require.Equal(t, 1, srv.manager.Len())

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, client.WriteMessage(websocket.CloseMessage, msg))
	client.Close()

	require.Eventually(t, func() bool { return srv.manager.Len() == 0 }, waitFor, time.Millisecond)
	assert.True(t, srv.browser.isClosed())
}

func TestRendererIgnoresMalformedInput(t *testing.T) {
	srv := newTestServer(t)
	client := srv.dial(t)
	defer client.Close()

	require.Eventually(t, srv.browser.streaming, waitFor, time.Millisecond)

	for _, msg := range []string{`garbage`, `{"category":"event","data":{"type":"unknown"}}`} {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0xff}))
	require.NoError(t, client.WriteMessage(websocket.TextMessage,
		[]byte(`{"category":"event","data":{"type":"mousemove","x":1,"y":1}}`)))

	// the session survived and still answers
	assert.JSONEq(t, `{"cursor":"pointer"}`, readText(t, client))
	assert.Equal(t, 1, srv.manager.Len())
}

func TestRendererRejectsBadParams(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		url  string
	}{
		{"missing target", "ws" + strings.TrimPrefix(srv.URL, "http") + "/renderer?target_width=800&target_height=600"},
		{"zero width", srv.rendererURL("https://example.com", "0", "600")},
		{"relative target", srv.rendererURL("example", "800", "600")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			if client != nil {
				client.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, srv.manager.Len())
}

func TestConnSendAfterCloseIsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serverConns := make(chan *Conn, 1)

	router := gin.New()
	router.GET("/echo", func(c *gin.Context) {
		upgrader := websocket.Upgrader{}
		raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		serverConns <- NewConn(raw, time.Second, nil)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/echo", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer client.Close()

	conn := <-serverConns
	require.NoError(t, conn.SendJSON(map[string]string{"frame": "x"}))
	require.NoError(t, conn.SendBinary([]byte{1, 2, 3}))

	assert.JSONEq(t, `{"frame":"x"}`, readText(t, client))
	messageType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, []byte{1, 2, 3}, data)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.True(t, conn.Closed())
	assert.NoError(t, conn.SendJSON(map[string]string{"frame": "late"}))
	assert.NoError(t, conn.SendBinary([]byte{4}))

	_, _, err = client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestConnSendRacingCloseIsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serverConns := make(chan *Conn, 1)

	router := gin.New()
	router.GET("/echo", func(c *gin.Context) {
		upgrader := websocket.Upgrader{}
		raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		serverConns <- NewConn(raw, time.Second, nil)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/echo", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer client.Close()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn := <-serverConns
	start := make(chan struct{})
	errs := make(chan error, 400)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					errs <- conn.SendBinary([]byte{byte(j)})
				} else {
					errs <- conn.SendJSON(map[string]int{"n": j})
				}
			}
		}(i)
	}

	close(start)
	require.NoError(t, conn.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err, "a send overlapping Close must not surface an error")
	}
	<-drained
}
