package transform

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/GoCodeAlone/cosim"
)

// Relay runs a transformer as its own party: it receives updates from one
// link, transforms them and forwards them on another, one at a time and in
// order, until the upstream link closes.
type Relay struct {
	In          cosim.Link
	Out         cosim.Link
	Transformer cosim.Transformer
	Rand        *rand.Rand
	Role        cosim.Role
	Logger      cosim.Logger
}

// Run relays until the upstream party closes its link, then closes the
// downstream link. It returns the number of updates forwarded.
func (r *Relay) Run(ctx context.Context) (int, error) {
	logger := r.Logger
	if logger == nil {
		logger = cosim.NopLogger()
	}
	t := r.Transformer
	if t == nil {
		t = cosim.PassThrough{}
	}
	rng := r.Rand
	if rng == nil {
		rng = cosim.NewRand(0, cosim.StreamRelay)
	}
	defer r.Out.Close()

	forwarded := 0
	for {
		if err := ctx.Err(); err != nil {
			return forwarded, fmt.Errorf("%w after %d updates: %w", cosim.ErrRunAborted, forwarded, err)
		}
		u, err := r.In.Receive(ctx)
		if errors.Is(err, cosim.ErrLinkClosed) {
			logger.Info("Upstream closed", "role", r.Role, "forwarded", forwarded)
			return forwarded, nil
		}
		if err != nil {
			return forwarded, fmt.Errorf("%w: receive: %w", cosim.ErrLiveness, err)
		}

		out, err := t.Transform(u, rng)
		if err == nil {
			err = out.Validate()
		}
		if err != nil {
			logger.Error("Transform failed", "role", r.Role, "window", u.Window.String(), "error", err)
			return forwarded, fmt.Errorf("%w: %w: %w", cosim.ErrKernel, cosim.ErrTransformFailed, err)
		}
		if err := r.Out.Send(ctx, out); err != nil {
			return forwarded, fmt.Errorf("%w: send: %w", cosim.ErrLiveness, err)
		}
		forwarded++
		logger.Debug("Update relayed", "role", r.Role, "window", u.Window.String(), "forwarded", forwarded)
	}
}
