package session

import "errors"

var (
	// ErrConfiguration rejects invalid capture requests, connect parameters
	// and out-of-range input such as an unknown pointer button.
	ErrConfiguration = errors.New("configuration error")

	// ErrProvisioning means the browser could not be created or navigated.
	// It is the only error that terminates a session on its own.
	ErrProvisioning = errors.New("provisioning failed")

	// ErrMalformedMessage marks a client message that is not valid JSON or
	// lacks a required field. Such messages are ignored.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrNotActive is returned when input arrives outside the ACTIVE state.
	ErrNotActive = errors.New("session not active")

	// ErrSessionClosed is returned by operations on a stopped relay.
	ErrSessionClosed = errors.New("session closed")
)
