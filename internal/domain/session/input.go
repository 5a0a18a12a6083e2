package session

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// buttons maps client button indices to browser buttons.
var buttons = [...]MouseButton{ButtonLeft, ButtonMiddle, ButtonRight}

func buttonFor(index int) (MouseButton, error) {
	if index < 0 || index >= len(buttons) {
		return "", fmt.Errorf("%w: unknown pointer button %d", ErrConfiguration, index)
	}
	return buttons[index], nil
}

type cursorMessage struct {
	Cursor string `json:"cursor"`
}

// Translator applies decoded client actions to a browser session.
type Translator struct {
	cursorLimiter *rate.Limiter
}

// NewTranslator creates a translator. A positive cursorRPS caps how often a
// pointer move triggers a cursor lookup; zero looks up on every move.
func NewTranslator(cursorRPS float64) *Translator {
	t := &Translator{}
	if cursorRPS > 0 {
		t.cursorLimiter = rate.NewLimiter(rate.Limit(cursorRPS), 1)
	}
	return t
}

// Apply performs one action. Unknown actions are ignored. A non-empty cursor
// under the pointer after a move is reported to conn.
func (t *Translator) Apply(ctx context.Context, browser BrowserSession, conn Connection, action Action) error {
	switch a := action.(type) {
	case PointerDown:
		button, err := buttonFor(a.Button)
		if err != nil {
			return err
		}
		return browser.MouseDown(ctx, button)

	case PointerMove:
		if err := browser.MouseMove(ctx, a.X, a.Y); err != nil {
			return err
		}
		return t.reportCursor(ctx, browser, conn, a.X, a.Y)

	case PointerUp:
		return browser.MouseUp(ctx)

	case Wheel:
		return browser.Wheel(ctx, a.DeltaY)

	case KeyDown:
		return browser.KeyDown(ctx, a.Key)

	case KeyUp:
		return browser.KeyUp(ctx, a.Key)

	case Resize:
		if a.Width <= 0 || a.Height <= 0 {
			return fmt.Errorf("%w: invalid viewport %dx%d", ErrConfiguration, a.Width, a.Height)
		}
		return browser.SetViewport(ctx, Viewport{Width: a.Width, Height: a.Height})

	case NavigateBack:
		return browser.GoBack(ctx)

	default:
		return nil
	}
}

func (t *Translator) reportCursor(ctx context.Context, browser BrowserSession, conn Connection, x, y float64) error {
	if t.cursorLimiter != nil && !t.cursorLimiter.Allow() {
		return nil
	}

	cursor, err := browser.CursorAt(ctx, x, y)
	if err != nil {
		return fmt.Errorf("cursor lookup: %w", err)
	}
	if cursor == "" {
		return nil
	}
	return conn.SendJSON(cursorMessage{Cursor: cursor})
}
