package gate

import (
	"context"
	"errors"
)

var (
	ErrUnauthenticated = errors.New("gate: unauthenticated")
	ErrUnauthorized    = errors.New("gate: unauthorized")
	ErrNoPolicyDefined = errors.New("gate: no policy defined for resource")
)

// Policy decides whether user may perform action on a concrete resource.
type Policy[U any] interface {
	Can(ctx context.Context, user U, action Action, resource any) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc[U any] func(ctx context.Context, user U, action Action, resource any) bool

func (f PolicyFunc[U]) Can(ctx context.Context, user U, action Action, resource any) bool {
	return f(ctx, user, action, resource)
}
