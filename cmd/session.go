package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/example/vaxsched/internal/config"
	"github.com/example/vaxsched/internal/db"
	"github.com/example/vaxsched/internal/logging"
	"github.com/example/vaxsched/internal/session"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or forget the saved platform session",
	}
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionClearCmd())
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show where the session is stored and whether one is saved",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(ctx context.Context, st sessionHandle) error {
				blob, err := st.store.Load(ctx)
				fmt.Fprintf(os.Stdout, "backend=%s location=%s\n", st.backend, st.location)
				switch {
				case err != nil:
					fmt.Fprintf(os.Stdout, "saved=unreadable error=%q\n", err.Error())
				case blob == nil:
					fmt.Fprintln(os.Stdout, "saved=no")
				default:
					fmt.Fprintf(os.Stdout, "saved=yes bytes=%d\n", len(blob))
				}
				return nil
			})
		},
	}
}

func newSessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved session; the next run signs in from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(ctx context.Context, st sessionHandle) error {
				if err := st.store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "cleared %s\n", st.location)
				return nil
			})
		},
	}
}

type sessionHandle struct {
	store    session.Store
	backend  string
	location string
}

func withSessions(fn func(ctx context.Context, st sessionHandle) error) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var pg *db.DB
	if cfg.SessionBackend == config.BackendPostgres {
		if pg, err = openDB(ctx, cfg, true); err != nil {
			return err
		}
		defer pg.Close()
	}
	store, location, closeFn, err := openSessions(cfg, pg, log)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, sessionHandle{store: store, backend: cfg.SessionBackend, location: location})
}
