package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// Names the capture extension exposes in its background page.
const (
	bindingSendData = "sendData"
	startRecording  = `(settings) => { START_RECORDING(settings); }`
	stopRecording   = `(index) => { STOP_RECORDING(index); }`
)

const (
	attachTimeout      = 5 * time.Second
	attachPollInterval = 50 * time.Millisecond
	defaultChunkBuffer = 256
)

var errNoExtension = errors.New("capture extension not attached")

type extensionTarget struct {
	background playwright.Page
	tab        playwright.Page
}

// ExtensionBridge drives the recording extension loaded into each session's
// browser. The extension pushes encoded chunks through the sendData binding;
// the bridge publishes them on one channel for the whole process.
type ExtensionBridge struct {
	extensionID string
	logger      *zap.Logger

	mu      sync.RWMutex
	targets map[id.SessionID]extensionTarget

	chunks    chan session.CaptureChunk
	done      chan struct{}
	closeOnce sync.Once
}

// NewExtensionBridge creates a bridge for the extension with extensionID.
// buffer sizes the chunk channel; zero picks a default.
func NewExtensionBridge(extensionID string, buffer int, logger *zap.Logger) *ExtensionBridge {
	if buffer <= 0 {
		buffer = defaultChunkBuffer
	}
	return &ExtensionBridge{
		extensionID: extensionID,
		logger:      logger,
		targets:     make(map[id.SessionID]extensionTarget),
		chunks:      make(chan session.CaptureChunk, buffer),
		done:        make(chan struct{}),
	}
}

// Chunks is the single stream of capture chunks for every session.
func (b *ExtensionBridge) Chunks() <-chan session.CaptureChunk {
	return b.chunks
}

// Attach finds the extension's background page in browserCtx and binds it
// to sessionID. tab is the page being recorded.
func (b *ExtensionBridge) Attach(sessionID id.SessionID, browserCtx playwright.BrowserContext, tab playwright.Page) error {
	background, err := b.findBackgroundPage(browserCtx)
	if err != nil {
		return err
	}

	if err := background.ExposeFunction(bindingSendData, b.sendData(sessionID)); err != nil {
		return fmt.Errorf("expose %s: %w", bindingSendData, err)
	}

	b.mu.Lock()
	b.targets[sessionID] = extensionTarget{background: background, tab: tab}
	b.mu.Unlock()
	return nil
}

// findBackgroundPage waits for the extension to come up; background pages
// appear shortly after the context launches.
func (b *ExtensionBridge) findBackgroundPage(browserCtx playwright.BrowserContext) (playwright.Page, error) {
	prefix := "chrome-extension://" + b.extensionID + "/"
	deadline := time.Now().Add(attachTimeout)
	for {
		for _, page := range browserCtx.BackgroundPages() {
			if strings.HasPrefix(page.URL(), prefix) {
				return page, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no background page for extension %s", b.extensionID)
		}
		time.Sleep(attachPollInterval)
	}
}

// Detach forgets sessionID. The browser going away takes the binding with it.
func (b *ExtensionBridge) Detach(sessionID id.SessionID) {
	b.mu.Lock()
	delete(b.targets, sessionID)
	b.mu.Unlock()
}

func (b *ExtensionBridge) target(sessionID id.SessionID) (extensionTarget, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.targets[sessionID]
	if !ok {
		return extensionTarget{}, fmt.Errorf("%w for %s", errNoExtension, sessionID)
	}
	return t, nil
}

// StartCapture brings the tab to front, since the extension records the
// active tab, then asks the extension to start recording.
func (b *ExtensionBridge) StartCapture(ctx context.Context, sessionID id.SessionID, req session.CaptureRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := b.target(sessionID)
	if err != nil {
		return err
	}

	if err := t.tab.BringToFront(); err != nil {
		return fmt.Errorf("bring tab to front: %w", err)
	}

	settings := map[string]interface{}{
		"audio":     req.Audio,
		"video":     req.Video,
		"mimeType":  req.MimeType,
		"frameSize": req.FrameSize,
		"index":     sessionID.String(),
	}
	if _, err := t.background.Evaluate(startRecording, settings); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	return nil
}

// StopCapture asks the extension to stop recording for sessionID.
func (b *ExtensionBridge) StopCapture(ctx context.Context, sessionID id.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := b.target(sessionID)
	if err != nil {
		return err
	}
	if _, err := t.background.Evaluate(stopRecording, sessionID.String()); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return nil
}

// sendData is the binding the extension calls with {id, data}. data is a
// binary string: one byte per UTF-16 code unit.
func (b *ExtensionBridge) sendData(attached id.SessionID) playwright.ExposedFunction {
	return func(args ...interface{}) interface{} {
		chunk, err := decodeChunk(attached, args)
		if err != nil {
			b.logger.Debug("dropping capture payload", zap.Error(err))
			return nil
		}
		b.publish(chunk)
		return nil
	}
}

func decodeChunk(attached id.SessionID, args []interface{}) (session.CaptureChunk, error) {
	if len(args) == 0 {
		return session.CaptureChunk{}, errors.New("no payload")
	}
	payload, ok := args[0].(map[string]interface{})
	if !ok {
		return session.CaptureChunk{}, fmt.Errorf("unexpected payload %T", args[0])
	}
	data, ok := payload["data"].(string)
	if !ok {
		return session.CaptureChunk{}, errors.New("payload without data")
	}

	sessionID := attached
	if raw, ok := payload["id"].(string); ok && id.SessionID(raw).Valid() {
		sessionID = id.SessionID(raw)
	}
	return session.CaptureChunk{SessionID: sessionID, Data: binaryStringBytes(data)}, nil
}

func binaryStringBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// publish blocks while the buffer is full so chunks are never dropped
// mid-stream, unless the bridge is closed.
func (b *ExtensionBridge) publish(chunk session.CaptureChunk) {
	select {
	case b.chunks <- chunk:
	case <-b.done:
	}
}

// Close releases publishers blocked on a full buffer. The chunk channel is
// left open; consumers stop on their own context.
func (b *ExtensionBridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
