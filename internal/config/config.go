// Package config loads and validates the TOML configuration file.
//
// Secrets are never stored in the file itself: the config names environment
// variables (`password_env`, `token_env`) and the values are resolved once at
// load time and kept only in process memory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration tree.
type Config struct {
	Personal     PersonalConfig     `toml:"personal"`
	Svn          SvnConfig          `toml:"svn"`
	GitHub       GitHubConfig       `toml:"github"`
	Developer    DeveloperConfig    `toml:"developer"`
	CommitFormat CommitFormatConfig `toml:"commit_format"`
	Options      OptionsConfig      `toml:"options"`
}

// PersonalConfig holds daemon-level settings.
type PersonalConfig struct {
	PollIntervalSecs int    `toml:"poll_interval_secs"`
	DataDir          string `toml:"data_dir"`
	LogLevel         string `toml:"log_level"`
}

// SvnConfig identifies the SVN side.
type SvnConfig struct {
	URL         string `toml:"url"`
	Username    string `toml:"username"`
	PasswordEnv string `toml:"password_env"`

	// Password is resolved from PasswordEnv at load time; never serialized.
	Password string `toml:"-"`
}

// GitHubConfig identifies the Git side.
type GitHubConfig struct {
	APIURL        string `toml:"api_url"`
	Repo          string `toml:"repo"`
	TokenEnv      string `toml:"token_env"`
	DefaultBranch string `toml:"default_branch"`

	// Token is resolved from TokenEnv at load time; never serialized.
	Token string `toml:"-"`
}

// DeveloperConfig is the identity used when no author mapping exists.
type DeveloperConfig struct {
	Name        string `toml:"name"`
	Email       string `toml:"email"`
	SvnUsername string `toml:"svn_username"`
}

// CommitFormatConfig holds the two message templates. Empty values fall back
// to the built-in defaults, which carry the sync marker.
type CommitFormatConfig struct {
	SvnToGit string `toml:"svn_to_git"`
	GitToSvn string `toml:"git_to_svn"`
}

// OptionsConfig holds sync behaviour toggles.
type OptionsConfig struct {
	NormalizeLineEndings bool     `toml:"normalize_line_endings"`
	SyncExecutableBit    bool     `toml:"sync_executable_bit"`
	MaxFileSize          int64    `toml:"max_file_size"`
	IgnorePatterns       []string `toml:"ignore_patterns"`
	AutoMerge            bool     `toml:"auto_merge"`
	LfsThreshold         int64    `toml:"lfs_threshold"`
	LfsPatterns          []string `toml:"lfs_patterns"`

	// SyncDirectPushes is reserved and must stay false; validation rejects
	// true at startup rather than guessing its semantics.
	SyncDirectPushes bool `toml:"sync_direct_pushes"`
}

// Default returns a config with the documented defaults applied.
func Default() Config {
	return Config{
		Personal: PersonalConfig{
			PollIntervalSecs: 30,
			LogLevel:         "info",
		},
		GitHub: GitHubConfig{
			APIURL:        "https://api.github.com",
			DefaultBranch: "main",
		},
		Options: OptionsConfig{
			NormalizeLineEndings: true,
			SyncExecutableBit:    true,
			AutoMerge:            true,
		},
	}
}

// Load reads the TOML file at path, resolves secrets from the environment,
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	cfg.ResolveSecrets()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolveSecrets pulls the secret values out of the named environment
// variables into process memory.
func (c *Config) ResolveSecrets() {
	if c.Svn.PasswordEnv != "" {
		c.Svn.Password = os.Getenv(c.Svn.PasswordEnv)
	}
	if c.GitHub.TokenEnv != "" {
		c.GitHub.Token = os.Getenv(c.GitHub.TokenEnv)
	}
}

// Validate rejects configurations the daemon must not start with.
func (c *Config) Validate() error {
	if c.Personal.PollIntervalSecs <= 0 {
		return fmt.Errorf("config: personal.poll_interval_secs must be positive")
	}
	if c.Personal.DataDir == "" {
		return fmt.Errorf("config: personal.data_dir is required")
	}
	if c.Svn.URL == "" {
		return fmt.Errorf("config: svn.url is required")
	}
	if c.GitHub.Repo == "" {
		return fmt.Errorf("config: github.repo is required")
	}
	if c.Options.SyncDirectPushes {
		return fmt.Errorf("config: options.sync_direct_pushes is not implemented and must be false")
	}
	if c.Options.MaxFileSize < 0 {
		return fmt.Errorf("config: options.max_file_size must not be negative")
	}
	if c.Options.LfsThreshold < 0 {
		return fmt.Errorf("config: options.lfs_threshold must not be negative")
	}
	return nil
}

// PollInterval returns the cycle interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Personal.PollIntervalSecs) * time.Second
}

// Paths under data_dir.

// DatabasePath is the SQLite store file.
func (c *Config) DatabasePath() string { return filepath.Join(c.Personal.DataDir, "personal.db") }

// LogPath is the rotating daemon log file.
func (c *Config) LogPath() string { return filepath.Join(c.Personal.DataDir, "personal.log") }

// GitRepoPath is the local Git working clone.
func (c *Config) GitRepoPath() string { return filepath.Join(c.Personal.DataDir, "git-repo") }

// SvnWcPath is the SVN working copy.
func (c *Config) SvnWcPath() string { return filepath.Join(c.Personal.DataDir, "svn-wc") }

// PidPath is the daemon pid file.
func (c *Config) PidPath() string { return filepath.Join(c.Personal.DataDir, "daemon.pid") }
