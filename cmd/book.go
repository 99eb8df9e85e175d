package cmd

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

	"github.com/example/vaxsched/internal/application/discovery"
	"github.com/example/vaxsched/internal/application/workflow"
	"github.com/example/vaxsched/internal/config"
	"github.com/example/vaxsched/internal/domain/booking"
	"github.com/example/vaxsched/internal/interfaces/cli"
	"github.com/example/vaxsched/internal/journal"
	"github.com/example/vaxsched/internal/logging"
	"github.com/example/vaxsched/internal/metrics"
	"github.com/example/vaxsched/internal/remote"
	"github.com/example/vaxsched/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBookCmd() *cobra.Command {
	var (
		country   string
		cities    string
		from      string
		to        string
		migrateUp bool
	)

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Sign in, search the region's centers and book the first slot in the date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnvWith(config.Overrides{Country: country, Cities: cities})
			if err != nil {
				return err
			}
			ctry, err := booking.LookupCountry(cfg.Country)
			if err != nil {
				return err
			}
			window := booking.DefaultWindow(time.Now())
			if from != "" || to != "" {
				if from == "" {
					from = window.Start.Format(booking.DateLayout)
				}
				if to == "" {
					to = window.End.Format(booking.DateLayout)
				}
				if window, err = booking.ParseWindow(from, to, time.Local); err != nil {
					return err
				}
			}

			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer cancel()

			d, err := openDB(ctx, cfg, migrateUp)
			if err != nil {
				return err
			}
			if d != nil {
				defer d.Close()
			}
			sessions, where, closeSessions, err := openSessions(cfg, d, log)
			if err != nil {
				return err
			}
			defer closeSessions()
			log.Debug("session store", zap.String("location", where))

			reg := prometheus.NewRegistry()
			m := metrics.NewSearchMetrics(reg)

			client, err := remote.New(cfg.BaseURL, ctry.Code,
				remote.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
				remote.WithLogger(log.Named("remote")),
				remote.WithRateLimit(cfg.RatePerSec, 1))
			if err != nil {
				return err
			}

			term := cli.NewTerminal(os.Stdin, os.Stdout)
			deps := workflow.Deps{
				Client:   client,
				Sessions: sessions,
				Scheduler: &discovery.Scheduler{
					CenterDelay: cfg.CenterDelay,
					SweepDelay:  cfg.SweepDelay,
					MaxDuration: cfg.MaxSearch,
					Logger:      log.Named("discovery"),
				},
				Renderer: term,
				Logger:   log,
				Metrics:  m,
			}
			if d != nil {
				deps.Journal = journal.NewRepo(d)
			}
			wf, err := workflow.New(deps, workflow.Options{Country: ctry, Cities: cfg.Cities, Window: window})
			if err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				status := &web.Server{Metrics: metrics.Handler(reg), View: wf.View}
				go func() {
					if err := web.Start(ctx, cfg.MetricsAddr, status.Routes(), log); err != nil {
						log.Warn("status server stopped", zap.Error(err))
					}
				}()
			}

			// Ctrl-C stops a running search; anywhere else it ends the run.
			sigint := make(chan os.Signal, 1)
			signal.Notify(sigint, os.Interrupt)
			defer signal.Stop(sigint)
			go func() {
				for range sigint {
					if wf.State() == workflow.StateSearching {
						wf.CancelSearch()
						continue
					}
					if err := term.Restore(); err != nil {
						log.Warn("restore terminal", zap.Error(err))
					}
					closeRun(wf)
					os.Exit(130)
				}
			}()
			defer closeRun(wf)

			fmt.Fprintf(os.Stdout, "vaxsched: %s, %s, %s\n", ctry.Name, strings.Join(cfg.Cities, ", "), window)
			err = (&cli.Wizard{WF: wf, Term: term}).Run(ctx)
			if errors.Is(err, cli.ErrQuit) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "platform country ("+strings.Join(booking.CountryCodes(), "|")+"), overrides VAXSCHED_COUNTRY")
	cmd.Flags().StringVar(&cities, "cities", "", "comma-separated cities, overrides VAXSCHED_CITIES")
	cmd.Flags().StringVar(&from, "from", "", "first acceptable day DD/MM/YYYY (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last acceptable day DD/MM/YYYY (default today+30)")
	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}

func closeRun(wf *workflow.Workflow) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wf.Close(ctx)
}
