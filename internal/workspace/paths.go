package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/forkpack/internal/config"
)

// Paths is the set of filesystem locations a release run touches.
// It is resolved once before any step runs.
type Paths struct {
	RepoRoot        string
	PackageDir      string
	Manifest        string
	TempDir         string
	DownloadArchive string
	ArtifactSource  string
	ArtifactDest    string
	VersionTag      string
	NativeOutput    string
	NativeDest      string
	OutputArchive   string
	CleanTargets    []string
}

// Resolve derives absolute paths from the layout and the run versions.
// Relative layout entries are interpreted against the repository root
// (package-level entries against the package dir, download entries against
// the temp dir).
func Resolve(layout config.LayoutConfig, baseVersion, forkVersion string) (Paths, error) {
	root := layout.RepoRoot
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve repo root: %w", err)
	}

	pkgDir := under(root, layout.PackageDir)
	tmp := layout.TempDir
	if tmp == "" {
		tmp = filepath.Join(os.TempDir(), config.DefaultTempDirName)
	}
	tmp = under(root, tmp)

	p := Paths{
		RepoRoot:        root,
		PackageDir:      pkgDir,
		Manifest:        under(pkgDir, layout.Manifest),
		TempDir:         tmp,
		DownloadArchive: filepath.Join(tmp, TarballName(layout.PackageName, baseVersion)),
		ArtifactSource:  under(tmp, layout.ArtifactSource),
		ArtifactDest:    under(pkgDir, layout.ArtifactDest),
		VersionTag:      under(pkgDir, layout.VersionTagFile),
		NativeOutput:    under(root, layout.NativeOutputDir),
		NativeDest:      under(pkgDir, layout.NativeDest),
		OutputArchive:   filepath.Join(pkgDir, TarballName(layout.PackageName, forkVersion)),
	}
	for _, t := range layout.CleanTargets {
		p.CleanTargets = append(p.CleanTargets, under(pkgDir, t))
	}
	return p, nil
}

// TarballName is the file name npm pack gives a package version. Scoped
// names lose the "@" and join scope and name with a dash.
func TarballName(pkg, version string) string {
	pkg = strings.ReplaceAll(strings.TrimPrefix(pkg, "@"), "/", "-")
	return fmt.Sprintf("%s-%s.tgz", pkg, version)
}

func under(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
