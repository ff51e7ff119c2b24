package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/app"
	"github.com/matheus3301/chatsync/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "chat service URL (overrides config)")
	flag.Parse()

	c, err := app.Start(context.Background(), app.Params{
		Program:   "chatsync",
		Profile:   *profileFlag,
		ServerURL: *serverFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ui := tui.NewApp(c.Engine, c.Session, c.Bus, c.Logger, tui.Options{
		Profile: c.Profile.Name,
		Server:  c.Config.ServerURL,
	})
	runErr := ui.Run()

	if err := c.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
