package session

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Connection query parameters.
const (
	ParamTargetURL        = "target_url"
	ParamTargetWidth      = "target_width"
	ParamTargetHeight     = "target_height"
	ParamEveryNthFrame    = "every_nth_frame"
	ParamCaptureAudio     = "capture_audio"
	ParamCaptureVideo     = "capture_video"
	ParamCaptureMime      = "capture_mime"
	ParamCaptureFrameSize = "capture_frame_size"
)

// DefaultEveryNthFrame is used when the client does not pick a frame pacing.
const DefaultEveryNthFrame = 10

// CaptureDefaults is the capture request applied when the client does not
// override it in the query string.
type CaptureDefaults struct {
	Enabled   bool
	Audio     bool
	Video     bool
	MimeType  string
	FrameSize int
}

// ParamDefaults holds server-side defaults for optional parameters.
type ParamDefaults struct {
	EveryNthFrame int
	Capture       CaptureDefaults
}

// ConnectParams are the validated handshake parameters of one connection.
type ConnectParams struct {
	TargetURL     string
	Viewport      Viewport
	EveryNthFrame int
	// Capture is nil when no audio/video capture was requested.
	Capture *CaptureRequest
}

// ParseConnectParams decodes and validates handshake query parameters.
// Errors wrap ErrConfiguration.
func ParseConnectParams(values url.Values, defaults ParamDefaults) (ConnectParams, error) {
	var params ConnectParams

	target, err := decodeTargetURL(values.Get(ParamTargetURL))
	if err != nil {
		return params, err
	}
	params.TargetURL = target

	if params.Viewport.Width, err = positiveInt(values, ParamTargetWidth, 0, true); err != nil {
		return params, err
	}
	if params.Viewport.Height, err = positiveInt(values, ParamTargetHeight, 0, true); err != nil {
		return params, err
	}

	nth := defaults.EveryNthFrame
	if nth <= 0 {
		nth = DefaultEveryNthFrame
	}
	if params.EveryNthFrame, err = positiveInt(values, ParamEveryNthFrame, nth, false); err != nil {
		return params, err
	}

	params.Capture, err = parseCapture(values, defaults.Capture)
	if err != nil {
		return params, err
	}

	return params, nil
}

// Validate checks invariants of params built without ParseConnectParams.
func (p ConnectParams) Validate() error {
	if p.TargetURL == "" {
		return fmt.Errorf("%w: %s is required", ErrConfiguration, ParamTargetURL)
	}
	if _, err := parseAbsoluteURL(p.TargetURL); err != nil {
		return err
	}
	if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
		return fmt.Errorf("%w: viewport must be positive, got %dx%d", ErrConfiguration, p.Viewport.Width, p.Viewport.Height)
	}
	if p.EveryNthFrame < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrConfiguration, ParamEveryNthFrame)
	}
	if p.Capture != nil {
		if _, err := NewCaptureRequest(p.Capture.Audio, p.Capture.Video, p.Capture.MimeType, p.Capture.FrameSize); err != nil {
			return err
		}
	}
	return nil
}

// decodeTargetURL accepts standard and URL-safe base64, padded or not.
func decodeTargetURL(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("%w: %s is required", ErrConfiguration, ParamTargetURL)
	}
	// unescaped '+' in a query string arrives as a space
	encoded = strings.ReplaceAll(encoded, " ", "+")

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(encoded)
		if err != nil {
			continue
		}
		target := strings.TrimSpace(string(decoded))
		if _, err := parseAbsoluteURL(target); err != nil {
			return "", err
		}
		return target, nil
	}

	return "", fmt.Errorf("%w: %s is not valid base64", ErrConfiguration, ParamTargetURL)
}

func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid target url: %w", ErrConfiguration, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: target url %q is not absolute", ErrConfiguration, raw)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return nil, fmt.Errorf("%w: target url %q has no host", ErrConfiguration, raw)
	}
	return u, nil
}

func positiveInt(values url.Values, name string, fallback int, required bool) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		if required {
			return 0, fmt.Errorf("%w: %s is required", ErrConfiguration, name)
		}
		return fallback, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrConfiguration, name, raw)
	}
	return n, nil
}

func optionalBool(values url.Values, name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrConfiguration, name, raw)
	}
	return b, nil
}

// parseCapture resolves the capture request. Resolving to neither audio nor
// video means capture was not requested, which is not an error here.
func parseCapture(values url.Values, defaults CaptureDefaults) (*CaptureRequest, error) {
	audioDefault, videoDefault := defaults.Audio, defaults.Video
	if !defaults.Enabled {
		audioDefault, videoDefault = false, false
	}

	audio, err := optionalBool(values, ParamCaptureAudio, audioDefault)
	if err != nil {
		return nil, err
	}
	video, err := optionalBool(values, ParamCaptureVideo, videoDefault)
	if err != nil {
		return nil, err
	}
	if !audio && !video {
		return nil, nil
	}

	mimeType := values.Get(ParamCaptureMime)
	if mimeType == "" && audio == defaults.Audio && video == defaults.Video {
		mimeType = defaults.MimeType
	}
	frameSize, err := positiveInt(values, ParamCaptureFrameSize, defaults.FrameSize, false)
	if err != nil {
		return nil, err
	}

	req, err := NewCaptureRequest(audio, video, mimeType, frameSize)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
