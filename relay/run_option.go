package relay

import (
	"context"
)

// RunOptions holds the options for Session.Run.
type RunOptions struct {
	gracefullCtx context.Context
}

// RunOption is an option for Session.Run.
type RunOption func(*RunOptions)

// WithGracefullContext accepts a context that starts a graceful drain when
// cancelled. Cancelling the context passed to Run forces an immediate
// teardown instead.
func WithGracefullContext(ctx context.Context) RunOption {
	return func(options *RunOptions) {
		options.gracefullCtx = ctx
	}
}
