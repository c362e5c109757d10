package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gitsvnsync/gitsvnsync/internal/engine"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the background sync daemon",
	}
	cmd.AddCommand(newDaemonStartCmd(), newDaemonStopCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the polling scheduler in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			sched := engine.NewScheduler(a.engine, a.cfg.PollInterval(),
				a.cfg.Personal.DataDir, a.cfg.PidPath(), a.logger)
			return sched.Run(ctx)
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOnly()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(cfg.PidPath())
			if err != nil {
				return fmt.Errorf("no running daemon found (cannot read %s): %w", cfg.PidPath(), err)
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return fmt.Errorf("corrupt pid file %s: %w", cfg.PidPath(), err)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal pid %d: %w", pid, err)
			}
			fmt.Printf("sent SIGTERM to daemon (pid %d)\n", pid)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.Bootstrap(ctx); err != nil {
				return err
			}
			stats, err := a.engine.RunCycle(ctx)
			if err != nil {
				os.Exit(exitConnectivity)
			}
			fmt.Printf("cycle complete: svn->git %d, git->svn %d (%d PRs, %d failed), active conflicts %d\n",
				stats.SvnToGitCount, stats.GitToSvnCount, stats.PRsProcessed, stats.PRsFailed, stats.ConflictsActive)
			if stats.ConflictsActive > 0 {
				os.Exit(exitConflicts)
			}
			return nil
		},
	}
}
