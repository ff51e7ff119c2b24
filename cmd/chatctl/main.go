package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Scriptable chatsync client",
	Long: `chatctl drives the chatsync client core from the command line.

Each invocation restores the profile's saved login, performs one action
against the chat service and exits.

Examples:
  chatctl login alice --password secret
  chatctl chats
  chatctl open <chatId>
  chatctl send <chatId> "hello there"
  chatctl devserver --addr :5000`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	profileFlag string
	serverFlag  string
	jsonFlag    bool
	verboseFlag bool
	homeFlag    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "chat service URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log to stderr")
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "base directory (overrides ~/.chatsync)")
	_ = rootCmd.PersistentFlags().MarkHidden("home")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(devserverCmd)
}
