package config

import "time"

// Default values mirror the layout of a React Native fork checkout.
const (
	DefaultPackageDir      = "packages/react-native"
	DefaultPackageName     = "react-native"
	DefaultManifest        = "sdks/hermes-engine/hermes-engine.podspec"
	DefaultArtifactSource  = "package/sdks/hermesc"
	DefaultArtifactDest    = "sdks/hermesc"
	DefaultVersionTagFile  = "sdks/.hermesversion"
	DefaultNativeOutputDir = "/tmp/maven-local"
	DefaultNativeDest      = "android"
	DefaultTempDirName     = "hermesc"
	DefaultRegistryURL     = "https://registry.npmjs.com"
	DefaultRegistryTimeout = 5 * time.Minute
	DefaultNotifySubject   = "forkpack.runs"
	DefaultNotifyTimeout   = 5 * time.Second
)

// DefaultCleanTargets are removed (relative to the package dir) when --clean is set.
func DefaultCleanTargets() []string {
	return []string{"android", "sdks/download", "sdks/hermes", "sdks/hermesc"}
}

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every empty field with its default.
func (c *Config) ApplyDefaults() {
	l := &c.Layout
	if l.RepoRoot == "" {
		l.RepoRoot = "."
	}
	if l.PackageDir == "" {
		l.PackageDir = DefaultPackageDir
	}
	if l.PackageName == "" {
		l.PackageName = DefaultPackageName
	}
	if l.Manifest == "" {
		l.Manifest = DefaultManifest
	}
	if l.ArtifactSource == "" {
		l.ArtifactSource = DefaultArtifactSource
	}
	if l.ArtifactDest == "" {
		l.ArtifactDest = DefaultArtifactDest
	}
	if l.VersionTagFile == "" {
		l.VersionTagFile = DefaultVersionTagFile
	}
	if l.NativeOutputDir == "" {
		l.NativeOutputDir = DefaultNativeOutputDir
	}
	if l.NativeDest == "" {
		l.NativeDest = DefaultNativeDest
	}
	if l.CleanTargets == nil {
		l.CleanTargets = DefaultCleanTargets()
	}

	if c.Registry.URL == "" {
		c.Registry.URL = DefaultRegistryURL
	}
	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = DefaultRegistryTimeout
	}

	if c.Download.RetryBackoff == "" {
		c.Download.RetryBackoff = string(RetryBackoffLinear)
	}
	if c.Download.RetryInitialDelay <= 0 {
		c.Download.RetryInitialDelay = time.Second
	}
	if c.Download.RetryMaxDelay <= 0 {
		c.Download.RetryMaxDelay = 30 * time.Second
	}

	if len(c.Commands.SetVersion.Args) == 0 {
		c.Commands.SetVersion = CommandSpec{
			Args: []string{"node", "scripts/releases/set-rn-version.js", "--to-version", "{fork_version}", "--build-type", "release"},
		}
	}
	if len(c.Commands.NativeBuild.Args) == 0 {
		c.Commands.NativeBuild = CommandSpec{Args: []string{"./gradlew", "publishAllToMavenTempLocal"}}
	}
	if len(c.Commands.Pack.Args) == 0 {
		c.Commands.Pack = CommandSpec{Args: []string{"npm", "pack"}, Dir: "{package_dir}"}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(LogLevelInfo)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = string(LogFormatText)
	}

	if c.Notify.Subject == "" {
		c.Notify.Subject = DefaultNotifySubject
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = DefaultNotifyTimeout
	}
}
