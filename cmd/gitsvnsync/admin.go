package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gitsvnsync/gitsvnsync/internal/engine"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
)

func newPRLogCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "pr-log",
		Short: "Show the merged-PR replay log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.store.ListPRSyncLog(ctx, status, 50)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no PR replays recorded")
				return nil
			}
			for _, e := range entries {
				revRange := "-"
				if e.SvnRevStart > 0 {
					revRange = fmt.Sprintf("r%d..r%d", e.SvnRevStart, e.SvnRevEnd)
				}
				fmt.Printf("#%-5d %-9s %-8s %-12s %s\n",
					e.PRNumber, e.Status, e.MergeStrategy, revRange, e.Title)
				if e.ErrorMessage != "" {
					fmt.Printf("       error: %s\n", e.ErrorMessage)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, completed, failed)")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var action string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			var entries []store.AuditEntry
			if action != "" {
				entries, err = a.store.ListAuditByAction(ctx, action, limit)
			} else {
				entries, err = a.store.ListAudit(ctx, limit)
			}
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no audit entries")
				return nil
			}
			for _, e := range entries {
				mark := "ok"
				if !e.Success {
					mark = "FAIL"
				}
				subject := "-"
				switch {
				case e.SvnRev > 0 && e.GitSHA != "":
					subject = fmt.Sprintf("r%d/%s", e.SvnRev, shortRef(e.GitSHA))
				case e.SvnRev > 0:
					subject = fmt.Sprintf("r%d", e.SvnRev)
				case e.GitSHA != "":
					subject = shortRef(e.GitSHA)
				}
				fmt.Printf("%s  %-4s %-24s %-12s %s\n",
					e.CreatedAt, mark, e.Action, subject, e.Details)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "filter by action name (e.g. echo_skip, file_policy_skip)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to show")
	return cmd
}

func shortRef(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func newWatermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or reset sync watermarks",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print both watermarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			for _, source := range []string{store.WatermarkSvnLastRev, store.WatermarkGitLastPRTime} {
				value, ok, err := a.store.GetWatermark(ctx, source)
				if err != nil {
					return err
				}
				if !ok {
					value = "(unset)"
				}
				fmt.Printf("%-18s %s\n", source, value)
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <source> <value>",
		Short: "Reset a watermark (svn_last_rev or git_last_pr_time)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			if source != store.WatermarkSvnLastRev && source != store.WatermarkGitLastPRTime {
				return fmt.Errorf("unknown watermark source %q", source)
			}
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.PutWatermark(ctx, source, args[1]); err != nil {
				return err
			}
			if err := a.store.AppendAudit(ctx, store.AuditEntry{
				Action:  "watermark_reset",
				Details: fmt.Sprintf("operator reset %s to %s", source, args[1]),
				Success: true,
			}); err != nil {
				return err
			}
			fmt.Printf("%s reset to %s\n", source, args[1])
			return nil
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run connectivity and toolchain preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			results := a.engine.Doctor(ctx)
			for _, r := range results {
				mark := "ok"
				if !r.OK {
					mark = "FAIL"
				}
				fmt.Printf("%-4s %-16s %s\n", mark, r.Name, r.Detail)
			}
			if !engine.Healthy(results) {
				os.Exit(exitConnectivity)
			}
			return nil
		},
	}
}
