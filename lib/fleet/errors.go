package fleet

import "errors"

var (
	// ErrUnknownImageType is returned when the server does not serve this node's image type
	ErrUnknownImageType = errors.New("image type not served")

	// ErrUnknownMessageType is returned when a frame carries an unrecognized type
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrMalformedMessage is returned when a frame cannot be decoded
	ErrMalformedMessage = errors.New("malformed message")

	// ErrRebooted is returned by a session after a reboot has been issued
	ErrRebooted = errors.New("reboot issued")

	// ErrInvalidConfig is returned when a required agent option is missing
	ErrInvalidConfig = errors.New("invalid agent config")
)
