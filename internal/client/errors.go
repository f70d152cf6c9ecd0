package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations that require a live
	// broker connection.
	ErrNotConnected = errors.New("client: not connected")

	// ErrAlreadyConnected is returned by Connect while a connection
	// exists. Disconnect first.
	ErrAlreadyConnected = errors.New("client: already connected")

	// ErrNoIdentity means the operator has not set a client id yet.
	ErrNoIdentity = errors.New("client: client identity not set")

	// ErrConnectionLost is delivered to correlation waiters and send
	// callers when the connection drops mid-operation.
	ErrConnectionLost = errors.New("client: connection lost")

	// ErrTimeout means a correlated request saw no response within the
	// request timeout. The request is not resent.
	ErrTimeout = errors.New("client: request timed out")

	// ErrReplaced releases a correlation waiter whose registration was
	// superseded by a newer request expecting the same response type.
	ErrReplaced = errors.New("client: request replaced")

	// ErrRequestInFlight guards listing calls that allow only one
	// outstanding request at a time.
	ErrRequestInFlight = errors.New("client: request already in flight")

	// ErrTopicTooLong means the effective topic exceeds the 255-byte
	// wire limit of the PUB payload.
	ErrTopicTooLong = errors.New("client: topic too long")

	// ErrAdminRequestDenied is the errors.Is target for every
	// server-reported delegation failure. Inspect the AdminError for
	// the specific code.
	ErrAdminRequestDenied = errors.New("client: admin request denied")
)

// Delegation error codes reported by the broker in ADMIN_REQ_ACK
// payloads.
const (
	CodeSelfRequest     = "SELF_REQUEST"
	CodeNotSubscribed   = "NOT_SUBSCRIBED"
	CodeAlreadyHasAdmin = "ALREADY_HAS_ADMIN"
	CodeAlreadyPending  = "ALREADY_PENDING"
	CodeTopicNotFound   = "TOPIC_NOT_FOUND"
	CodeOwnerNotFound   = "OWNER_NOT_FOUND"
)

// AdminError is a server-reported delegation failure with a stable
// machine code and a human-readable message.
type AdminError struct {
	Code    string
	Message string
	Topic   string
}

func (e *AdminError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("admin request for %q denied: %s (%s)", e.Topic, e.Message, e.Code)
	}
	return fmt.Sprintf("admin request denied: %s (%s)", e.Message, e.Code)
}

// Is makes errors.Is(err, ErrAdminRequestDenied) match any AdminError.
func (e *AdminError) Is(target error) bool {
	return target == ErrAdminRequestDenied
}
