// Package archive unpacks gzip-compressed tarballs such as npm package archives.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/logfields"
)

// ErrUnsafePath is returned for entries that would land outside the destination.
var ErrUnsafePath = errors.New("unsafe path in archive")

// ExtractTarGz unpacks tarPath into destDir. Directories, regular files and
// symlinks are created; entries escaping destDir abort the extraction.
// Existing files are overwritten.
func ExtractTarGz(tarPath, destDir string) error {
	f, err := os.Open(tarPath) // #nosec G304 -- path is computed by the caller
	if err != nil {
		return ferrors.ArchiveError("failed to open archive").WithCause(err).
			WithContext("path", tarPath).Build()
	}
	defer func() { _ = f.Close() }()

	if err := Extract(f, destDir); err != nil {
		return ferrors.ArchiveError("failed to extract archive").WithCause(err).
			WithContext("path", tarPath).Build()
	}
	slog.Debug("Extracted archive", logfields.Path(tarPath), slog.String("dest", destDir))
	return nil
}

// Extract unpacks a gzip tar stream into destDir.
func Extract(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() { _ = gzr.Close() }()

	root := filepath.Clean(destDir)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return err
	}
	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		if !isValidTarPath(header.Name) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, header.Name)
		}
		target := filepath.Join(root, filepath.Clean(header.Name))
		if target == root {
			continue
		}
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, header.Name)
		}
		if err := checkParents(root, target); err != nil {
			return fmt.Errorf("%w: %s", err, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if !isSafeLink(root, target, header.Linkname) {
				return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		default:
			slog.Debug("Skipping unsupported tar entry", logfields.Path(header.Name), slog.Int("type", int(header.Typeflag)))
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	// Replace a previously extracted link instead of writing through it.
	if err := removeLink(target); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode) // #nosec G304 -- target validated against root
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil { // #nosec G110 -- archives come from the configured registry
		_ = out.Close()
		return err
	}
	return out.Close()
}

// isValidTarPath checks if a tar entry path is safe to extract.
func isValidTarPath(name string) bool {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}

// checkParents rejects a target whose existing parent directories under root
// include a symlink, so every entry lands where its name says it does.
func checkParents(root, target string) error {
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}
	cur := root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: parent %s is a symlink", ErrUnsafePath, cur)
		}
	}
	return nil
}

func removeLink(target string) error {
	fi, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return os.Remove(target)
	}
	return nil
}

// isSafeLink reports whether a symlink at target pointing to linkname stays
// under root. ".." is only accepted as a leading component: the kernel
// resolves "a/../b" through a, which may itself be a link.
func isSafeLink(root, target, linkname string) bool {
	if linkname == "" || filepath.IsAbs(linkname) {
		return false
	}
	leading := true
	for _, part := range strings.Split(filepath.ToSlash(linkname), "/") {
		if part == ".." {
			if !leading {
				return false
			}
			continue
		}
		leading = false
	}
	resolved := filepath.Join(filepath.Dir(target), linkname)
	return resolved == root || strings.HasPrefix(resolved, root+string(os.PathSeparator))
}
