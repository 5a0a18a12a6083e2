package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webdelegate/internal/domain/session"
	"github.com/GriffinCanCode/webdelegate/internal/shared/id"
)

// CDP methods and events used for the screencast.
const (
	cdpStartScreencast = "Page.startScreencast"
	cdpStopScreencast  = "Page.stopScreencast"
	cdpFrameAck        = "Page.screencastFrameAck"
	cdpFrameEvent      = "Page.screencastFrame"
)

// frameBuffer bounds frames queued between the driver and the handler.
// Chromium waits for an ack before sending more, so it stays near empty.
const frameBuffer = 16

const cursorScript = `([x, y]) => {
	const element = document.elementFromPoint(x, y);
	return element ? window.getComputedStyle(element).cursor : "";
}`

var errPageClosed = errors.New("page closed")

// Page is a session.BrowserSession backed by one tab of a persistent
// Chromium context.
type Page struct {
	sessionID   id.SessionID
	context     playwright.BrowserContext
	tab         playwright.Page
	cdp         playwright.CDPSession
	userDataDir string
	bridge      *ExtensionBridge
	logger      *zap.Logger

	mu        sync.Mutex
	closed    bool
	frames    chan session.ScreencastFrame
	stop      chan struct{}
	stopOnce  sync.Once
	delivered chan struct{}
}

func newPage(sessionID id.SessionID, browserCtx playwright.BrowserContext, tab playwright.Page, cdp playwright.CDPSession, userDataDir string, logger *zap.Logger) *Page {
	return &Page{
		sessionID:   sessionID,
		context:     browserCtx,
		tab:         tab,
		cdp:         cdp,
		userDataDir: userDataDir,
		logger:      logger,
	}
}

// alive fails fast once the page is closed or ctx is done. Playwright calls
// do not take a context, so this is the only cancellation point.
func (p *Page) alive(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errPageClosed
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	opts := playwright.PageGotoOptions{}
	if _, ok := ctx.Deadline(); ok {
		opts.Timeout = playwright.Float(timeoutMillis(ctx, 0))
	}
	if _, err := p.tab.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// GoBack is a no-op when there is no history; playwright then returns a nil
// response and no error.
func (p *Page) GoBack(ctx context.Context) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	if _, err := p.tab.GoBack(); err != nil {
		return fmt.Errorf("history back failed: %w", err)
	}
	return nil
}

func (p *Page) SetViewport(ctx context.Context, viewport session.Viewport) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	return p.tab.SetViewportSize(viewport.Width, viewport.Height)
}

func mouseButton(button session.MouseButton) (*playwright.MouseButton, error) {
	switch button {
	case session.ButtonLeft:
		return playwright.MouseButtonLeft, nil
	case session.ButtonMiddle:
		return playwright.MouseButtonMiddle, nil
	case session.ButtonRight:
		return playwright.MouseButtonRight, nil
	default:
		return nil, fmt.Errorf("%w: unknown mouse button %q", session.ErrConfiguration, button)
	}
}

func (p *Page) MouseDown(ctx context.Context, button session.MouseButton) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	pwButton, err := mouseButton(button)
	if err != nil {
		return err
	}
	return p.tab.Mouse().Down(playwright.MouseDownOptions{Button: pwButton})
}

func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	return p.tab.Mouse().Move(x, y)
}

func (p *Page) MouseUp(ctx context.Context) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	return p.tab.Mouse().Up()
}

func (p *Page) Wheel(ctx context.Context, deltaY float64) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	return p.tab.Mouse().Wheel(0, deltaY)
}

func (p *Page) KeyDown(ctx context.Context, key string) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	return p.tab.Keyboard().Down(key)
}

func (p *Page) KeyUp(ctx context.Context, key string) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	return p.tab.Keyboard().Up(key)
}

// CursorAt evaluates the computed cursor of the element under (x, y).
func (p *Page) CursorAt(ctx context.Context, x, y float64) (string, error) {
	if err := p.alive(ctx); err != nil {
		return "", err
	}
	result, err := p.tab.Evaluate(cursorScript, []float64{x, y})
	if err != nil {
		return "", fmt.Errorf("evaluate cursor: %w", err)
	}
	cursor, _ := result.(string)
	return cursor, nil
}

// StartScreencast subscribes to Page.screencastFrame and starts streaming.
// Frames are handed to handler one at a time on a dedicated goroutine so the
// handler may call back into the driver, e.g. to ack.
func (p *Page) StartScreencast(ctx context.Context, opts session.ScreencastOptions, handler session.FrameHandler) error {
	if err := p.alive(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	if p.frames != nil {
		p.mu.Unlock()
		return errors.New("screencast already started")
	}
	p.frames = make(chan session.ScreencastFrame, frameBuffer)
	p.stop = make(chan struct{})
	p.delivered = make(chan struct{})
	frames, stop, delivered := p.frames, p.stop, p.delivered
	p.mu.Unlock()

	go func() {
		defer close(delivered)
		for {
			select {
			case <-stop:
				return
			case frame := <-frames:
				handler(frame)
			}
		}
	}()

	p.cdp.On(cdpFrameEvent, func(params map[string]interface{}) {
		frame, err := parseFrame(params)
		if err != nil {
			p.logger.Debug("malformed screencast frame", zap.Error(err))
			return
		}
		select {
		case frames <- frame:
		case <-stop:
		}
	})

	_, err := p.cdp.Send(cdpStartScreencast, map[string]interface{}{
		"format":        opts.Format,
		"quality":       opts.Quality,
		"everyNthFrame": opts.EveryNthFrame,
	})
	if err != nil {
		p.stopFrames()
		return fmt.Errorf("%s: %w", cdpStartScreencast, err)
	}
	return nil
}

// parseFrame reads the payload of a Page.screencastFrame event. CDP numbers
// arrive as float64 after JSON decoding.
func parseFrame(params map[string]interface{}) (session.ScreencastFrame, error) {
	data, ok := params["data"].(string)
	if !ok {
		return session.ScreencastFrame{}, errors.New("frame without data")
	}
	var token int64
	switch v := params["sessionId"].(type) {
	case float64:
		token = int64(v)
	case int:
		token = int64(v)
	case int64:
		token = v
	default:
		return session.ScreencastFrame{}, fmt.Errorf("frame without sessionId: %T", params["sessionId"])
	}
	return session.ScreencastFrame{Data: data, AckToken: token}, nil
}

func (p *Page) AckScreencastFrame(ctx context.Context, token int64) error {
	if err := p.alive(ctx); err != nil {
		return err
	}
	_, err := p.cdp.Send(cdpFrameAck, map[string]interface{}{"sessionId": token})
	return err
}

func (p *Page) StopScreencast(ctx context.Context) error {
	p.stopFrames()
	if err := p.alive(ctx); err != nil {
		return err
	}
	_, err := p.cdp.Send(cdpStopScreencast, nil)
	return err
}

// stopFrames ends frame delivery and waits for the handler to return.
func (p *Page) stopFrames() {
	p.mu.Lock()
	stop, delivered := p.stop, p.delivered
	p.mu.Unlock()
	if stop == nil {
		return
	}
	p.stopOnce.Do(func() { close(stop) })
	<-delivered
}

// Close detaches capture, closes the browser and removes its profile.
func (p *Page) Close() error {
	p.stopFrames()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.bridge != nil {
		p.bridge.Detach(p.sessionID)
	}

	var errs []error
	if err := p.cdp.Detach(); err != nil {
		p.logger.Debug("detach cdp session", zap.Error(err))
	}
	if err := p.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := os.RemoveAll(p.userDataDir); err != nil {
		errs = append(errs, fmt.Errorf("remove profile: %w", err))
	}
	return errors.Join(errs...)
}
