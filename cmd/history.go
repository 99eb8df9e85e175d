package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/example/vaxsched/internal/config"
	"github.com/example/vaxsched/internal/journal"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past search runs, or show one run (needs DATABASE_URL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("history needs DATABASE_URL")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			d, err := openDB(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer d.Close()
			repo := journal.NewRepo(d)

			if len(args) == 1 {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid run id: %w", err)
				}
				r, err := repo.Get(ctx, id)
				if err != nil {
					return err
				}
				printRun(r)
				return nil
			}

			runs, err := repo.List(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				printRun(r)
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "number of runs to list, newest first")
	return c
}

func printRun(r journal.Run) {
	line := fmt.Sprintf("id=%s created=%s status=%s country=%s cities=%s window=%s..%s",
		r.ID, r.CreatedAt.Format(time.RFC3339), r.Status, r.Country, strings.Join(r.Cities, ","),
		r.WindowStart.Format("2006-01-02"), r.WindowEnd.Format("2006-01-02"))
	if r.CenterName != nil {
		line += fmt.Sprintf(" center=%q", *r.CenterName)
	}
	if r.SlotAt != nil {
		line += " slot=" + r.SlotAt.Format(time.RFC3339)
	}
	if r.LastError != nil {
		line += fmt.Sprintf(" last_error=%q", *r.LastError)
	}
	fmt.Fprintln(os.Stdout, line)
}
