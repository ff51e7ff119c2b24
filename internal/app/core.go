package app

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/session"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 10 * time.Second
)

// Core is a started client core: the components front ends drive.
type Core struct {
	Config  *config.Config
	Profile profile.Profile
	Logger  *zap.Logger
	Bus     *bus.Bus
	Session *session.Context
	Engine  *intsync.Engine

	app *fx.App
}

// Start builds the module for p and runs its start hooks, which restore
// the persisted credential.
func Start(ctx context.Context, p Params) (*Core, error) {
	c := &Core{}
	c.app = fx.New(
		Module(p),
		fx.Populate(&c.Config, &c.Profile, &c.Logger, &c.Bus, &c.Session, &c.Engine),
	)
	if err := c.app.Err(); err != nil {
		return nil, err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := c.app.Start(startCtx); err != nil {
		return nil, err
	}
	return c, nil
}

// Stop runs the stop hooks: the channel closes, the store closes and the
// profile lock is released.
func (c *Core) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return c.app.Stop(ctx)
}

// WaitFor blocks until cond holds for the engine snapshot, re-checking on
// every engine or session event.
func (c *Core) WaitFor(ctx context.Context, cond func(intsync.Snapshot) bool) (intsync.Snapshot, error) {
	events, unsub := c.Bus.Subscribe("", 64)
	defer unsub()
	for {
		snap := c.Engine.Snapshot()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-events:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}
