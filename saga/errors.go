package saga

import (
	"github.com/dpup/obsidian/errors"
	"google.golang.org/grpc/codes"
)

var (
	// ErrSagaNotFound is returned when a message addresses an id that has no
	// live saga, because it never existed, completed, failed or expired.
	ErrSagaNotFound = errors.NewC("saga: not found", codes.NotFound)

	// ErrUnhandledMessage is returned when the addressed saga does not accept
	// the message type.
	ErrUnhandledMessage = errors.NewC("saga: message not accepted by saga", codes.FailedPrecondition)

	// ErrNoSagaForCommand is returned when no saga starts with the command.
	ErrNoSagaForCommand = errors.NewC("saga: no saga starts with command", codes.Unimplemented)
)
