package session

import (
	"context"

	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// Connection is the ordered, bidirectional message channel to one client.
// Sends on a closed connection must be no-ops that return nil.
type Connection interface {
	SendJSON(v any) error
	SendBinary(data []byte) error
	Close() error
}

// Viewport is a browser viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MouseButton names a pointer button understood by the browser.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonMiddle MouseButton = "middle"
	ButtonRight  MouseButton = "right"
)

// ScreencastOptions configures a screencast subscription.
type ScreencastOptions struct {
	Format        string
	Quality       int
	EveryNthFrame int
}

// ScreencastFrame is one encoded frame plus the token that acknowledges it.
type ScreencastFrame struct {
	Data     string // base64-encoded image, forwarded as-is
	AckToken int64
}

// FrameHandler receives screencast frames. The subscription invokes it
// sequentially, one frame at a time.
type FrameHandler func(ScreencastFrame)

// BrowserSession is one controlled browser page.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	SetViewport(ctx context.Context, viewport Viewport) error

	MouseDown(ctx context.Context, button MouseButton) error
	MouseMove(ctx context.Context, x, y float64) error
	MouseUp(ctx context.Context) error
	Wheel(ctx context.Context, deltaY float64) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error

	// CursorAt returns the computed CSS cursor of the element at (x, y),
	// or "" when there is no element.
	CursorAt(ctx context.Context, x, y float64) (string, error)

	StartScreencast(ctx context.Context, opts ScreencastOptions, handler FrameHandler) error
	AckScreencastFrame(ctx context.Context, token int64) error
	StopScreencast(ctx context.Context) error

	Close() error
}

// Provisioner creates isolated browser sessions.
type Provisioner interface {
	Provision(ctx context.Context, sessionID id.SessionID, viewport Viewport) (BrowserSession, error)
}

// CaptureBridge records audio/video inside the browser and pushes encoded
// chunks back to the process as CaptureChunks.
type CaptureBridge interface {
	StartCapture(ctx context.Context, sessionID id.SessionID, req CaptureRequest) error
	StopCapture(ctx context.Context, sessionID id.SessionID) error
}

// CaptureChunk is an opaque media payload for one session.
type CaptureChunk struct {
	SessionID id.SessionID
	Data      []byte
}

// ChunkSink consumes the capture chunks routed to one session. DeliverChunk
// is called from the registry dispatcher and must not block on the network.
type ChunkSink interface {
	DeliverChunk(data []byte)
}
