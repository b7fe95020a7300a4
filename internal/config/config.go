package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
)

// DefaultConfigFile is looked up in the working directory when no --config is given.
const DefaultConfigFile = "forkpack.yaml"

// Config represents the application configuration.
type Config struct {
	Layout          LayoutConfig      `yaml:"layout"`
	Registry        RegistryConfig    `yaml:"registry"`
	Download        DownloadConfig    `yaml:"download"`
	Commands        CommandsConfig    `yaml:"commands"`
	PolicyOverrides map[string]string `yaml:"policy_overrides,omitempty"` // step name -> checked|best_effort
	Logging         LoggingConfig     `yaml:"logging"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	History         HistoryConfig     `yaml:"history"`
	Notify          NotifyConfig      `yaml:"notify"`
}

// LayoutConfig describes the repository and package tree the pipeline assembles.
// Relative paths are resolved against RepoRoot (PackageDir, NativeOutputDir, TempDir)
// or against the package directory (Manifest, ArtifactDest, VersionTagFile,
// NativeDest, CleanTargets). ArtifactSource is relative to the temp directory.
type LayoutConfig struct {
	RepoRoot        string   `yaml:"repo_root"`
	PackageDir      string   `yaml:"package_dir"`
	PackageName     string   `yaml:"package_name"`
	Manifest        string   `yaml:"manifest"`
	ArtifactSource  string   `yaml:"artifact_source"`
	ArtifactDest    string   `yaml:"artifact_dest"`
	VersionTagFile  string   `yaml:"version_tag_file"`
	NativeOutputDir string   `yaml:"native_output_dir"`
	NativeDest      string   `yaml:"native_dest"`
	TempDir         string   `yaml:"temp_dir,omitempty"` // empty: <os temp>/hermesc
	CleanTargets    []string `yaml:"clean_targets"`
	// CheckDirty scans the worktree before a run and warns on uncommitted
	// changes. Off by default: the scan takes minutes on the monorepo.
	CheckDirty bool `yaml:"check_dirty,omitempty"`
}

// RegistryConfig points at the npm registry the base package is fetched from.
type RegistryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DownloadConfig controls retries of the base package download. MaxRetries 0 disables retries.
type DownloadConfig struct {
	RetryBackoff      string        `yaml:"retry_backoff"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	MaxRetries        int           `yaml:"max_retries"`
}

// CommandSpec is an external command line. Dir is relative to the repository root.
// Args may contain the placeholders {fork_version}, {base_version},
// {hermes_version}, {repo_root} and {package_dir}.
type CommandSpec struct {
	Args []string `yaml:"args"`
	Dir  string   `yaml:"dir,omitempty"`
	Env  []string `yaml:"env,omitempty"`
}

// CommandsConfig lists the external tools the pipeline drives.
type CommandsConfig struct {
	SetVersion  CommandSpec `yaml:"set_version"`
	NativeBuild CommandSpec `yaml:"native_build"`
	Pack        CommandSpec `yaml:"pack"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables Prometheus textfile output when Textfile is set.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// HistoryConfig enables the SQLite run history when Path is set.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// NotifyConfig enables NATS run notifications when NATSURL is set.
type NotifyConfig struct {
	NATSURL string        `yaml:"nats_url,omitempty"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load loads configuration from the specified file. The file must exist.
func Load(configPath string) (*Config, error) {
	loadEnvFile()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferrors.ConfigError(fmt.Sprintf("configuration file not found: %s", configPath)).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").Fatal().Build()
	}

	return Parse(data)
}

// LoadOrDefault loads configPath when it exists and returns the defaults otherwise.
func LoadOrDefault(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		loadEnvFile()
		slog.Debug("No configuration file, using defaults", "path", configPath)
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(configPath)
}

// Parse decodes YAML (after environment variable expansion) and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init creates a new configuration file with every default spelled out.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# forkpack release pipeline configuration\n"
	if err := os.WriteFile(configPath, append([]byte(header), data...), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to write config file").Build()
	}
	return nil
}
