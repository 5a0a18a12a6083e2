package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Message categories.
const (
	CategoryEvent   = "event"
	CategoryCommand = "command"
)

// Action is a decoded client message. The set of implementations is closed;
// anything the decoder does not recognize decodes to a nil Action.
type Action interface {
	// Kind names the action for logs and metrics.
	Kind() string
}

// PointerDown presses a pointer button by index (0 left, 1 middle, 2 right).
type PointerDown struct{ Button int }

// PointerMove moves the pointer to viewport coordinates.
type PointerMove struct{ X, Y float64 }

// PointerUp releases the pointer button.
type PointerUp struct{}

// Wheel scrolls vertically.
type Wheel struct{ DeltaY float64 }

// KeyDown presses a key by name.
type KeyDown struct{ Key string }

// KeyUp releases a key by name.
type KeyUp struct{ Key string }

// Resize changes the viewport without re-navigating.
type Resize struct{ Width, Height int }

// NavigateBack goes one step back in history.
type NavigateBack struct{}

func (PointerDown) Kind() string  { return "mousedown" }
func (PointerMove) Kind() string  { return "mousemove" }
func (PointerUp) Kind() string    { return "mouseup" }
func (Wheel) Kind() string        { return "wheel" }
func (KeyDown) Kind() string      { return "keydown" }
func (KeyUp) Kind() string        { return "keyup" }
func (Resize) Kind() string       { return "resize" }
func (NavigateBack) Kind() string { return "history" }

// DecodeMessage parses one client text message of the form
//
//	{"category": "event"|"command", "data": {"type": ..., ...}}
//
// Invalid JSON and known types missing required fields fail with
// ErrMalformedMessage. Unknown categories and types return (nil, nil).
func DecodeMessage(raw []byte) (Action, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedMessage)
	}

	msg := gjson.ParseBytes(raw)
	data := msg.Get("data")
	kind := data.Get("type").String()

	switch msg.Get("category").String() {
	case CategoryEvent:
		return decodeEvent(kind, data)
	case CategoryCommand:
		return decodeCommand(kind, data)
	default:
		return nil, nil
	}
}

func decodeEvent(kind string, data gjson.Result) (Action, error) {
	switch kind {
	case "mousedown":
		button := 0
		if field := data.Get("button"); field.Exists() {
			n, err := intValue(field, "button")
			if err != nil {
				return nil, err
			}
			button = n
		}
		return PointerDown{Button: button}, nil

	case "mousemove":
		x, err := requiredNumber(data, "x")
		if err != nil {
			return nil, err
		}
		y, err := requiredNumber(data, "y")
		if err != nil {
			return nil, err
		}
		return PointerMove{X: x, Y: y}, nil

	case "mouseup":
		return PointerUp{}, nil

	case "wheel":
		delta, err := requiredNumber(data, "delta")
		if err != nil {
			return nil, err
		}
		return Wheel{DeltaY: delta}, nil

	case "keydown", "keyup":
		key := data.Get("key")
		if !key.Exists() || key.String() == "" {
			return nil, fmt.Errorf("%w: %s requires key", ErrMalformedMessage, kind)
		}
		if kind == "keydown" {
			return KeyDown{Key: key.String()}, nil
		}
		return KeyUp{Key: key.String()}, nil

	case "resize":
		w, err := requiredInt(data, "w")
		if err != nil {
			return nil, err
		}
		h, err := requiredInt(data, "h")
		if err != nil {
			return nil, err
		}
		return Resize{Width: w, Height: h}, nil

	default:
		return nil, nil
	}
}

func decodeCommand(kind string, data gjson.Result) (Action, error) {
	switch kind {
	case "history":
		if data.Get("value").String() == "back" {
			return NavigateBack{}, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func requiredNumber(data gjson.Result, name string) (float64, error) {
	field := data.Get(name)
	if !field.Exists() {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedMessage, name)
	}
	return numberValue(field, name)
}

func requiredInt(data gjson.Result, name string) (int, error) {
	field := data.Get(name)
	if !field.Exists() {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedMessage, name)
	}
	return intValue(field, name)
}

// numberValue accepts JSON numbers and numeric strings.
func numberValue(field gjson.Result, name string) (float64, error) {
	switch field.Type {
	case gjson.Number:
		return field.Float(), nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(field.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not numeric", ErrMalformedMessage, name)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %s is not numeric", ErrMalformedMessage, name)
	}
}

// intValue truncates toward zero, the way parseInt reads "12.7".
func intValue(field gjson.Result, name string) (int, error) {
	v, err := numberValue(field, name)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
