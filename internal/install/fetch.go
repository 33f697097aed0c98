package install

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/command"
)

// ErrUnsupportedSource is returned for repo values no fetcher understands.
var ErrUnsupportedSource = errors.New("unsupported install source")

// fetch materializes repo under dir and returns the application root.
func (m *Manager) fetch(ctx context.Context, repo, dir string) (string, error) {
	switch {
	case isGit(repo):
		dest := filepath.Join(dir, "src")
		url := strings.TrimPrefix(repo, "git+")
		if _, err := m.runner.Run(ctx, command.Cmd{Name: "git", Args: []string{"clone", "--depth", "1", url, dest}}); err != nil {
			return "", fmt.Errorf("git clone: %w", err)
		}
		return dest, nil

	case isArchive(repo) && (strings.HasPrefix(repo, "http://") || strings.HasPrefix(repo, "https://")):
		if err := m.download(ctx, repo, dir); err != nil {
			return "", err
		}
		return singleChild(dir)

	case isArchive(repo):
		f, err := os.Open(strings.TrimPrefix(repo, "file://"))
		if err != nil {
			return "", fmt.Errorf("open archive: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := extract(f, repo, dir); err != nil {
			return "", err
		}
		return singleChild(dir)

	default:
		src := strings.TrimPrefix(repo, "file://")
		if fi, err := os.Stat(src); err == nil && fi.IsDir() {
			dest := filepath.Join(dir, "src")
			if err := os.CopyFS(dest, os.DirFS(src)); err != nil {
				return "", fmt.Errorf("copy %s: %w", src, err)
			}
			return dest, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSource, repo)
	}
}

func isGit(repo string) bool {
	return strings.HasPrefix(repo, "git+") ||
		strings.HasPrefix(repo, "git://") ||
		strings.HasPrefix(repo, "ssh://") ||
		strings.HasPrefix(repo, "git@") ||
		strings.HasSuffix(repo, ".git")
}

func isArchive(repo string) bool {
	return strings.HasSuffix(repo, ".tar.gz") ||
		strings.HasSuffix(repo, ".tgz") ||
		strings.HasSuffix(repo, ".tar")
}

func (m *Manager) download(ctx context.Context, url, dir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}
	return extract(resp.Body, url, dir)
}

// extract unpacks a (possibly gzipped) tarball into dir.
func extract(r io.Reader, name, dir string) error {
	if !strings.HasSuffix(name, ".tar") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("gzip %s: %w", name, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}

		rel := filepath.Clean(hdr.Name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		target := filepath.Join(dir, rel)
		if ok, err := resolvesInside(dir, target); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("archive entry %q resolves outside destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if rel == "." {
				return fmt.Errorf("archive entry %q is not a directory", hdr.Name)
			}
			if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("archive entry %q would write through a symlink", hdr.Name)
			}
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if rel == "." || !symlinkIsLocal(rel, hdr.Linkname) {
				return fmt.Errorf("archive symlink %q -> %q escapes destination", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// symlinkIsLocal reports whether a link at rel pointing to linkname stays
// inside the extraction root.
func symlinkIsLocal(rel, linkname string) bool {
	if linkname == "" || filepath.IsAbs(linkname) {
		return false
	}
	return filepath.IsLocal(filepath.Join(filepath.Dir(rel), linkname))
}

// resolvesInside reports whether path stays under root once the symlinks
// along its existing prefix are resolved.
func resolvesInside(root, path string) (bool, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false, err
	}
	for p := path; ; {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			rel, err := filepath.Rel(realRoot, real)
			return err == nil && filepath.IsLocal(rel), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false, nil
		}
		p = parent
	}
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// singleChild returns dir's only subdirectory when an archive wraps its
// contents in one top-level folder, and dir otherwise.
func singleChild(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
