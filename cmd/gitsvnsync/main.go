// Command gitsvnsync runs the bidirectional SVN/GitHub sync daemon and its
// control operations.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gitsvnsync/gitsvnsync/internal/config"
	"github.com/gitsvnsync/gitsvnsync/internal/engine"
	"github.com/gitsvnsync/gitsvnsync/internal/github"
	"github.com/gitsvnsync/gitsvnsync/internal/gitrepo"
	"github.com/gitsvnsync/gitsvnsync/internal/identity"
	"github.com/gitsvnsync/gitsvnsync/internal/logsetup"
	"github.com/gitsvnsync/gitsvnsync/internal/notify"
	"github.com/gitsvnsync/gitsvnsync/internal/store"
	"github.com/gitsvnsync/gitsvnsync/internal/svn"
)

// Exit codes for the control surface.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitConnectivity = 2
	exitConflicts    = 3
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "gitsvnsync",
		Short:         "Bidirectional SVN <-> GitHub synchronization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "path to the TOML configuration file")

	root.AddCommand(
		newSyncCmd(),
		newDaemonCmd(),
		newConflictsCmd(),
		newPRLogCmd(),
		newAuditCmd(),
		newWatermarkCmd(),
		newDoctorCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitConfigError)
	}
}

// app bundles everything a command needs after startup.
type app struct {
	cfg    config.Config
	logger *logrus.Logger
	store  *store.Store
	engine *engine.Engine
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// loadApp loads config, opens the store, and wires the engine.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logsetup.New(cfg.Personal.LogLevel, cfg.LogPath())

	st, err := store.Open(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, err
	}

	svnClient := svn.NewClient(cfg.Svn.URL, cfg.Svn.Username, cfg.Svn.Password, logger)

	repo, err := openGitRepo(ctx, cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	forge := newForge(cfg, logger)
	mapper := newMapper(cfg)
	sink := notify.LogSink{Log: logger}

	eng := engine.New(cfg, st, svnClient, repo, forge, mapper, sink, logger)
	return &app{cfg: cfg, logger: logger, store: st, engine: eng}, nil
}

// openGitRepo clones the forge repository on first run and opens the
// existing clone afterwards.
func openGitRepo(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*gitrepo.Repo, error) {
	path := cfg.GitRepoPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		remote := fmt.Sprintf("https://github.com/%s.git", cfg.GitHub.Repo)
		logger.WithField("remote", cfg.GitHub.Repo).Info("cloning forge repository")
		repo, err := gitrepo.Clone(ctx, remote, path, cfg.GitHub.Token, logger)
		if err == nil {
			return repo, nil
		}
		logger.WithError(err).Warn("clone failed, initialising empty repository")
	}
	return gitrepo.InitOrOpen(ctx, path, cfg.GitHub.DefaultBranch, cfg.GitHub.Token, logger)
}

func newForge(cfg config.Config, logger *logrus.Logger) engine.Forge {
	return github.NewClient(cfg.GitHub.APIURL, cfg.GitHub.Repo, cfg.GitHub.Token, logger)
}

func newMapper(cfg config.Config) identity.Mapper {
	table := map[string]identity.GitIdentity{}
	if cfg.Developer.SvnUsername != "" {
		table[cfg.Developer.SvnUsername] = identity.GitIdentity{
			Name:  cfg.Developer.Name,
			Email: cfg.Developer.Email,
		}
	}
	domain := "local"
	if i := strings.IndexByte(cfg.Developer.Email, '@'); i >= 0 {
		domain = cfg.Developer.Email[i+1:]
	}
	return identity.NewStatic(table, domain, cfg.Developer.SvnUsername)
}
