package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/app"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and save the credential",
	Long:  `Log in with a username and password. The password is read from --password or, if absent, from the first line of stdin.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved credential",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show profile, login and channel status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	loginCmd.Flags().String("password", "", "password (read from stdin when empty)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	out := cmd.OutOrStdout()
	return withCore(cmd, func(ctx context.Context, c *app.Core) error {
		if err := c.Session.Login(ctx, args[0], password); err != nil {
			return err
		}
		cred, _ := c.Session.Current()
		if jsonFlag {
			return outputJSON(out, map[string]any{"username": cred.User, "authenticated": true})
		}
		fmt.Fprintf(out, "Logged in as %s (profile %s)\n", cred.User, c.Profile.Name)
		return nil
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	return withCore(cmd, func(ctx context.Context, c *app.Core) error {
		cred, ok := c.Session.Current()
		c.Session.ClearCredential(ctx)
		if jsonFlag {
			return outputJSON(out, map[string]any{"username": cred.User, "was_logged_in": ok})
		}
		if ok {
			fmt.Fprintf(out, "Logged out %s\n", cred.User)
		} else {
			fmt.Fprintln(out, "Not logged in.")
		}
		return nil
	})
}

type statusOutput struct {
	Profile       string `json:"profile"`
	Server        string `json:"server"`
	Username      string `json:"username,omitempty"`
	Authenticated bool   `json:"authenticated"`
	ChannelOpen   bool   `json:"channel_open"`
	Phase         string `json:"phase"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	return withCore(cmd, func(_ context.Context, c *app.Core) error {
		snap := c.Engine.Snapshot()
		st := statusOutput{
			Profile:       c.Profile.Name,
			Server:        c.Config.ServerURL,
			Username:      snap.Credential.User,
			Authenticated: snap.Authenticated,
			ChannelOpen:   snap.ChannelOpen,
			Phase:         string(snap.Phase),
		}
		if jsonFlag {
			return outputJSON(out, st)
		}
		user := st.Username
		if !st.Authenticated {
			user = "(not logged in)"
		}
		channel := "closed"
		if st.ChannelOpen {
			channel = "open"
		}
		fmt.Fprintf(out, "Profile: %s\n", st.Profile)
		fmt.Fprintf(out, "Server:  %s\n", st.Server)
		fmt.Fprintf(out, "User:    %s\n", user)
		fmt.Fprintf(out, "Channel: %s\n", channel)
		fmt.Fprintf(out, "Phase:   %s\n", st.Phase)
		return nil
	})
}
