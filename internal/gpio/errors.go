package gpio

import "errors"

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownDriver  = errors.New("unknown gpio driver")
	ErrUnsafeState    = errors.New("channel active at startup")
)
