package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gitsvnsync/gitsvnsync/internal/config"
	"github.com/gitsvnsync/gitsvnsync/internal/conflict"
)

// loadConfigOnly is for commands that do not need the engine.
func loadConfigOnly() (config.Config, error) {
	return config.Load(configPath)
}

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve sync conflicts",
	}
	cmd.AddCommand(newConflictsListCmd(), newConflictsResolveCmd())
	return cmd
}

func newConflictsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.store.ListConflicts(ctx, conflict.Status(status), 100)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no conflicts")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%s  %-12s %-10s r%-6d %s\n",
					rec.ID, rec.Kind, rec.Status, rec.SvnRev, rec.FilePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (detected, queued, deferred, resolved)")
	return cmd
}

func newConflictsResolveCmd() *cobra.Command {
	var contentFile string
	var resolvedBy string
	cmd := &cobra.Command{
		Use:   "resolve <id> <accept-svn|accept-git|accept-merged|manual-content>",
		Short: "Resolve a conflict with the chosen strategy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			var resolution conflict.Resolution
			switch args[1] {
			case "accept-svn":
				resolution = conflict.AcceptSvn
			case "accept-git":
				resolution = conflict.AcceptGit
			case "accept-merged":
				resolution = conflict.AcceptMerged
			case "manual-content":
				resolution = conflict.ManualContent
			default:
				return fmt.Errorf("unknown resolution strategy %q", args[1])
			}

			var content []byte
			if resolution == conflict.ManualContent {
				if contentFile == "" {
					return fmt.Errorf("manual-content requires --content-file")
				}
				content, err = os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("failed to read content file: %w", err)
				}
			}

			if err := a.store.ResolveConflict(ctx, args[0], resolution, content, resolvedBy); err != nil {
				return err
			}
			fmt.Printf("conflict %s resolved with %s; both sides update next cycle\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&contentFile, "content-file", "", "file holding the manual resolution content")
	cmd.Flags().StringVar(&resolvedBy, "by", "operator", "identity recorded as the resolver")
	return cmd
}
