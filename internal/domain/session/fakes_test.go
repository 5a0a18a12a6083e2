package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

var errBrowserGone = errors.New("browser gone")

// fakeConn records everything sent to the client.
type fakeConn struct {
	mu        sync.Mutex
	text      []string
	binary    [][]byte
	closed    bool
	lateSends int
	onSend    func()
	closedCh  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closedCh: make(chan struct{})}
}

func (c *fakeConn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.lateSends++
		c.mu.Unlock()
		return nil
	}
	c.text = append(c.text, string(data))
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeConn) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.lateSends++
		return nil
	}
	c.binary = append(c.binary, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) Text() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.text...)
}

func (c *fakeConn) Binary() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.binary...)
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) LateSends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lateSends
}

// fakeBrowser records calls in order as short strings such as "down:left".
type fakeBrowser struct {
	mu       sync.Mutex
	calls    []string
	url      string
	viewport Viewport
	history  []string
	cursor   string
	acks     []int64
	handler  FrameHandler
	opts     ScreencastOptions
	closed   bool

	navigateErr   error
	screencastErr error
	ackErr        error

	// backGate, when set, holds GoBack until it is closed. backEntered is
	// signalled once GoBack is waiting.
	backGate    chan struct{}
	backEntered chan struct{}
}

func (b *fakeBrowser) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("navigate:" + url)
	if b.navigateErr != nil {
		return b.navigateErr
	}
	if b.url != "" {
		b.history = append(b.history, b.url)
	}
	b.url = url
	return nil
}

func (b *fakeBrowser) GoBack(context.Context) error {
	b.mu.Lock()
	b.record("back")
	gate, entered := b.backGate, b.backEntered
	b.mu.Unlock()
	if gate != nil {
		if entered != nil {
			close(entered)
		}
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return nil
	}
	b.url = b.history[len(b.history)-1]
	b.history = b.history[:len(b.history)-1]
	return nil
}

func (b *fakeBrowser) SetViewport(_ context.Context, v Viewport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("viewport")
	b.viewport = v
	return nil
}

func (b *fakeBrowser) MouseDown(_ context.Context, button MouseButton) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("down:" + string(button))
	return nil
}

func (b *fakeBrowser) MouseMove(_ context.Context, x, y float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("move:" + ftoa(x) + "," + ftoa(y))
	return nil
}

func (b *fakeBrowser) MouseUp(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("up")
	return nil
}

func (b *fakeBrowser) Wheel(_ context.Context, deltaY float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("wheel:" + ftoa(deltaY))
	return nil
}

func (b *fakeBrowser) KeyDown(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("keydown:" + key)
	return nil
}

func (b *fakeBrowser) KeyUp(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("keyup:" + key)
	return nil
}

func (b *fakeBrowser) CursorAt(context.Context, float64, float64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("cursor")
	return b.cursor, nil
}

func (b *fakeBrowser) StartScreencast(_ context.Context, opts ScreencastOptions, handler FrameHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("screencast:start")
	if b.screencastErr != nil {
		return b.screencastErr
	}
	b.opts = opts
	b.handler = handler
	return nil
}

func (b *fakeBrowser) AckScreencastFrame(_ context.Context, token int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, token)
	return b.ackErr
}

func (b *fakeBrowser) StopScreencast(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("screencast:stop")
	if b.closed {
		return errBrowserGone
	}
	return nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("close")
	b.closed = true
	return nil
}

// emit delivers a frame the way a screencast subscription would.
func (b *fakeBrowser) emit(data string, token int64) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(ScreencastFrame{Data: data, AckToken: token})
	}
}

func (b *fakeBrowser) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBrowser) Acks() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.acks...)
}

func (b *fakeBrowser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBrowser) State() (string, Viewport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url, b.viewport
}

// fakeProvisioner hands out one browser. When gate is set, Provision blocks
// until it is closed.
type fakeProvisioner struct {
	mu       sync.Mutex
	browser  *fakeBrowser
	err      error
	gate     chan struct{}
	viewport Viewport
	calls    int
}

func (p *fakeProvisioner) Provision(ctx context.Context, _ id.SessionID, viewport Viewport) (BrowserSession, error) {
	p.mu.Lock()
	p.calls++
	p.viewport = viewport
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if p.err != nil {
		return nil, p.err
	}
	p.browser.mu.Lock()
	p.browser.viewport = viewport
	p.browser.mu.Unlock()
	return p.browser, nil
}

// fakeBridge records capture start/stop requests.
type fakeBridge struct {
	mu       sync.Mutex
	started  map[id.SessionID]CaptureRequest
	stopped  []id.SessionID
	startErr error
	stopErr  error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{started: make(map[id.SessionID]CaptureRequest)}
}

func (b *fakeBridge) StartCapture(_ context.Context, sessionID id.SessionID, req CaptureRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.started[sessionID] = req
	return nil
}

func (b *fakeBridge) StopCapture(_ context.Context, sessionID id.SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = append(b.stopped, sessionID)
	return b.stopErr
}

func (b *fakeBridge) Started(sessionID id.SessionID) (CaptureRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.started[sessionID]
	return req, ok
}

func (b *fakeBridge) Stopped() []id.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]id.SessionID(nil), b.stopped...)
}

func ftoa(f float64) string {
	data, _ := json.Marshal(f)
	return string(data)
}
