package client

import (
	"errors"

	"alexa-viewer/transport"
)

var (
	// ErrInvalid is returned by every operation on a Client whose connection
	// was never established, has been closed, or was lost.
	ErrInvalid = errors.New("client: connection is not valid")

	// ErrTimeout reports a call whose deadline passed before its reply.
	ErrTimeout = errors.New("client: call timed out")

	// ErrNilPayload is returned by the subscription helpers given no payload.
	ErrNilPayload = errors.New("client: nil payload")

	// ErrClosed ends calls outstanding when the Client is closed.
	ErrClosed = transport.ErrClosed

	// ErrHangup ends calls outstanding when the binder goes away.
	ErrHangup = transport.ErrHangup
)
