package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odbgo/odb/internal/auth"
	"github.com/odbgo/odb/internal/notify"
	"github.com/odbgo/odb/internal/onedrive"
	"github.com/odbgo/odb/internal/state"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a folder for changes continuously",
		Long: `Watch a folder and report changes as they happen.

An immediate delta pass catches up since the last run, then further passes
run on every poll interval and, when enabled, on push notifications from
the service's socket channel. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	remotePath := cleanRemotePath(argOrProfilePath(args))

	sess, err := newAPISession()
	if err != nil {
		return err
	}

	store, err := state.Open(resolvedCfg.StateDB(), sess.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Validated at config load; parse failure here is a programming error.
	pollInterval, err := time.ParseDuration(resolvedCfg.Watch.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll interval: %w", err)
	}

	ctx := shutdownContext(cmd.Context(), sess.logger)
	g, ctx := errgroup.WithContext(ctx)

	// A nil channel blocks forever, so the select below simply never fires
	// on pings when the push channel is disabled.
	var pings <-chan struct{}

	if resolvedCfg.Watch.Websocket {
		listener := notify.NewListener(sess.client, newHTTPClient(), sess.logger)
		pings = listener.Pings()

		g.Go(func() error {
			return listener.Run(ctx)
		})
	}

	g.Go(func() error {
		return watchLoop(ctx, sess, store, remotePath, pollInterval, pings)
	})

	displayPath := remotePath
	if displayPath == "" {
		displayPath = "/"
	}

	statusf("Watching %s (poll every %s)...\n", displayPath, pollInterval)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	statusf("Stopped.\n")

	return nil
}

// watchLoop runs a delta pass immediately, then again on every poll tick
// and every push notification. Transient pass failures are logged and the
// loop continues; authentication failures are terminal because every later
// pass would fail the same way.
func watchLoop(
	ctx context.Context, sess *apiSession, store *state.Store,
	remotePath string, interval time.Duration, pings <-chan struct{},
) error {
	runPass := func(trigger string) error {
		items, err := deltaPass(ctx, sess, store, remotePath)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, auth.ErrAuthenticationFailed) {
				return err
			}

			sess.logger.Error("delta pass failed",
				slog.String("trigger", trigger),
				slog.String("error", err.Error()),
			)

			return nil
		}

		if len(items) > 0 {
			if err := reportWatchChanges(items); err != nil {
				return err
			}
		}

		if err := store.Checkpoint(); err != nil {
			sess.logger.Warn("state checkpoint", "error", err)
		}

		return nil
	}

	if err := runPass("startup"); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := runPass("poll"); err != nil {
				return err
			}
		case <-pings:
			if err := runPass("notification"); err != nil {
				return err
			}

			// The push-triggered pass just caught up; push the next poll out.
			ticker.Reset(interval)
		}
	}
}

// reportWatchChanges prints one line per change to stdout. With --json each
// change is one JSON object per line for stream consumers.
func reportWatchChanges(items []onedrive.Item) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)

		for i := range items {
			if err := enc.Encode(changeJSONItem{
				Path:       items[i].Path(),
				Change:     changeKind(&items[i]),
				IsFolder:   items[i].IsFolder,
				Size:       items[i].Size,
				ModifiedAt: items[i].ModifiedAt.UTC().Format("2006-01-02T15:04:05Z"),
				ID:         items[i].ID,
			}); err != nil {
				return fmt.Errorf("encoding JSON output: %w", err)
			}
		}

		return nil
	}

	now := time.Now().Format("15:04:05")

	for i := range items {
		path := items[i].Path()
		if items[i].IsFolder {
			path += "/"
		}

		fmt.Printf("%s  %-7s %s\n", now, changeKind(&items[i]), path)
	}

	return nil
}

// shutdownContext returns a context that cancels on the first SIGINT or
// SIGTERM and force-exits on the second. The first signal lets in-flight
// passes drain; the second is for when something hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
