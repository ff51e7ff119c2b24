package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/app"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

var errNotLoggedIn = errors.New("not logged in; run chatctl login <username>")

// withCore starts the client core for the selected profile, runs fn and
// stops the core again.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, c *app.Core) error) (err error) {
	ctx := cmd.Context()
	c, err := app.Start(ctx, app.Params{
		Program:   "chatctl",
		Profile:   profileFlag,
		Home:      homeFlag,
		ServerURL: serverFlag,
		Console:   verboseFlag,
	})
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := c.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	return fn(ctx, c)
}

// ready waits for the chat list of an authenticated session with an open
// channel.
func ready(ctx context.Context, c *app.Core) (intsync.Snapshot, error) {
	if _, ok := c.Session.Current(); !ok {
		return intsync.Snapshot{}, errNotLoggedIn
	}
	if !c.Session.ChannelOpen() {
		if err := c.Session.Reconnect(ctx); err != nil {
			return intsync.Snapshot{}, fmt.Errorf("push channel: %w", err)
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.Config.RequestTimeout+5*time.Second)
	defer cancel()
	snap, err := c.WaitFor(waitCtx, func(s intsync.Snapshot) bool {
		return !s.Authenticated || (s.ChannelOpen && !s.Loading)
	})
	if err != nil {
		return snap, fmt.Errorf("waiting for chats: %w", err)
	}
	if !snap.Authenticated {
		return snap, errNotLoggedIn
	}
	return snap, nil
}

// open selects chatID and waits until it is the active chat.
func open(ctx context.Context, c *app.Core, chatID string) (intsync.Snapshot, error) {
	if err := c.Engine.SelectChat(ctx, chatID); err != nil {
		return intsync.Snapshot{}, err
	}
	snap := c.Engine.Snapshot()
	if snap.Active == nil || snap.Active.ID != chatID {
		return snap, fmt.Errorf("chat %s could not be opened", chatID)
	}
	return snap, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
