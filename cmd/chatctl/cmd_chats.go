package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/app"
	"github.com/matheus3301/chatsync/internal/chat"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runChats,
}

var openCmd = &cobra.Command{
	Use:   "open <chatId>",
	Short: "Print a chat's transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

var newCmd = &cobra.Command{
	Use:   "new <username>",
	Short: "Start a chat with a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runNew,
}

var sendCmd = &cobra.Command{
	Use:   "send <chatId> <text>...",
	Short: "Send a message to a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func runChats(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	return withCore(cmd, func(ctx context.Context, c *app.Core) error {
		snap, err := ready(ctx, c)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(out, snap.Chats)
		}
		if len(snap.Chats) == 0 {
			fmt.Fprintln(out, "No chats.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHAT ID\tWITH\tLAST MESSAGE\tTIME")
		for _, ch := range snap.Chats {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ch.ID, ch.Title(snap.Credential.User), ch.Preview(), lastAt(ch))
		}
		return w.Flush()
	})
}

func runOpen(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return withCore(cmd, func(ctx context.Context, c *app.Core) error {
		if _, err := ready(ctx, c); err != nil {
			return err
		}
		snap, err := open(ctx, c, args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(out, chat.History{ChatID: args[0], Messages: snap.Transcript})
		}
		fmt.Fprintf(out, "Chat with %s\n\n", snap.Active.Title(snap.Credential.User))
		for _, m := range snap.Transcript {
			printMessage(out, m)
		}
		return nil
	})
}

func runNew(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return withCore(cmd, func(ctx context.Context, c *app.Core) error {
		if _, err := ready(ctx, c); err != nil {
			return err
		}
		if err := c.Engine.SubmitCreateChat(ctx, args[0]); err != nil {
			return err
		}
		snap := c.Engine.Snapshot()
		if len(snap.Chats) == 0 {
			return fmt.Errorf("chat with %s was not created", args[0])
		}
		created := snap.Chats[0]
		if jsonFlag {
			return outputJSON(out, created)
		}
		fmt.Fprintf(out, "Created chat %s with %s\n", created.ID, created.Title(snap.Credential.User))
		return nil
	})
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.Join(args[1:], " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is empty")
	}
	out := cmd.OutOrStdout()
	return withCore(cmd, func(ctx context.Context, c *app.Core) error {
		if _, err := ready(ctx, c); err != nil {
			return err
		}
		before, err := open(ctx, c, args[0])
		if err != nil {
			return err
		}
		if err := c.Engine.SubmitMessage(ctx, text); err != nil {
			return err
		}
		after := c.Engine.Snapshot()
		if len(after.Transcript) <= len(before.Transcript) {
			return fmt.Errorf("message was not sent")
		}
		sent := after.Transcript[len(after.Transcript)-1]
		if jsonFlag {
			return outputJSON(out, sent)
		}
		printMessage(out, sent)
		return nil
	})
}

func lastAt(c chat.Chat) string {
	if c.LastMessage == nil || c.LastMessage.Timestamp == nil {
		return "-"
	}
	return c.LastMessage.Timestamp.Local().Format("2006-01-02 15:04")
}

func printMessage(w io.Writer, m chat.Message) {
	fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), m.Sender, m.Text)
}
