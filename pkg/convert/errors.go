package convert

import "errors"

var (
	// ErrInvalidToolOutput reports a tool-result output of an unknown kind.
	ErrInvalidToolOutput = errors.New("convert: invalid tool output type")
	// ErrInvalidMessageRole reports a message whose role is not system, user,
	// assistant or tool.
	ErrInvalidMessageRole = errors.New("convert: invalid message role")
)
