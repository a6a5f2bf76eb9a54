// Package node defines the lifecycle contract shared by the gateway's
// long-running components and runs a set of them under one context.
package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Node is one long-running component. Run blocks until ctx ends or the
// component fails; a nil return after cancellation is a clean stop.
type Node interface {
	NodeID() string
	Run(ctx context.Context) error
}

// Func adapts a run function into a Node.
type Func struct {
	ID string
	Fn func(ctx context.Context) error
}

func (f Func) NodeID() string { return f.ID }

func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// RunAll starts every node and waits for all of them. The first failure
// cancels the others and is returned wrapped with the node id.
func RunAll(ctx context.Context, nodes ...Node) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		if n == nil {
			continue
		}
		n := n
		g.Go(func() error {
			log.Debug().Str("node", n.NodeID()).Msg("node: start")
			err := n.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("node", n.NodeID()).Msg("node: failed")
				return fmt.Errorf("%s: %w", n.NodeID(), err)
			}
			log.Debug().Str("node", n.NodeID()).Msg("node: stopped")
			return nil
		})
	}
	return g.Wait()
}
