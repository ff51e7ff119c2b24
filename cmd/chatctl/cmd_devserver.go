package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/testserver"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run an in-memory chat service for local testing",
	Long: `Serve the in-memory chat backend over HTTP and the push channel.

State lives in memory and is lost on exit. Users are registered with
repeated --user name:password flags.`,
	Args: cobra.NoArgs,
	RunE: runDevserver,
}

func init() {
	devserverCmd.Flags().String("addr", ":5000", "listen address")
	devserverCmd.Flags().StringArray("user", []string{"alice:secret", "bob:secret", "carol:secret"}, "user to register as name:password (repeatable)")
}

func runDevserver(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	users, _ := cmd.Flags().GetStringArray("user")

	logger, err := logging.New(logging.Options{Level: "info", Console: true})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv := testserver.New(testserver.WithLogger(logger))
	for _, u := range users {
		name, password, ok := strings.Cut(u, ":")
		if !ok || name == "" {
			return fmt.Errorf("invalid --user %q, want name:password", u)
		}
		srv.AddUser(name, password)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("devserver listening", zap.String("addr", addr), zap.Strings("users", srv.Users()))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
