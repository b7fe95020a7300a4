package release

import "git.home.luguber.info/inful/forkpack/internal/pipeline"

// Canonical step names, in execution order.
const (
	StepClean               pipeline.StepName = "clean"
	StepSetVersion          pipeline.StepName = "set_version"
	StepPatchManifest       pipeline.StepName = "patch_manifest"
	StepDownloadBase        pipeline.StepName = "download_base"
	StepExtractBase         pipeline.StepName = "extract_base"
	StepCopyHermesc         pipeline.StepName = "copy_hermesc"
	StepWriteHermesVersion  pipeline.StepName = "write_hermes_version"
	StepClearNativeOutput   pipeline.StepName = "clear_native_output"
	StepNativeBuild         pipeline.StepName = "native_build"
	StepCopyNativeArtifacts pipeline.StepName = "copy_native_artifacts"
	StepPack                pipeline.StepName = "pack"
)

// Diagnostics printed when a checked step fails.
const (
	DiagSetVersionFmt = "Failed to set version number to %s"
	DiagDownload      = "Failed to download base react-native package"
	DiagExtract       = "Failed to extract base react-native package"
	DiagCopyHermesc   = "Failed to copy hermesc from base react-native package"
	DiagNativeBuild   = "Could not generate artifacts"
	DiagCopyArtifacts = "Could not copy artifacts"
	DiagPack          = "Failed to generate tarball"
	DiagResolve       = "Failed to resolve release workspace"
)

// DirtyWorktreeWarning is recorded when layout.check_dirty finds uncommitted changes.
const DirtyWorktreeWarning = "source worktree has uncommitted changes"

// StepNames lists every step in execution order.
func StepNames() []pipeline.StepName {
	return []pipeline.StepName{
		StepClean, StepSetVersion, StepPatchManifest, StepDownloadBase, StepExtractBase,
		StepCopyHermesc, StepWriteHermesVersion, StepClearNativeOutput, StepNativeBuild,
		StepCopyNativeArtifacts, StepPack,
	}
}

// IsStep reports whether name is a known step.
func IsStep(name string) bool {
	for _, s := range StepNames() {
		if string(s) == name {
			return true
		}
	}
	return false
}
