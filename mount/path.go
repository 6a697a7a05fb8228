package mount

import (
	"path"
	"strings"
	"sync"

	"github.com/ardnew/usbms/fsdrv"
	"github.com/ardnew/usbms/pkg"
)

// cwdMu guards the per-volume working directories across all tables.
// Working directories are a namespace concern, not a driver concern, so
// they live here rather than in the volumes.
var cwdMu sync.Mutex

// Resolve translates a user-facing path of the form "<mount>:<rest>"
// into the target volume and a volume-relative path. An absolute rest
// ("/docs/a.txt") is used as-is; a relative rest is joined with the
// volume's current working directory. The returned path is cleaned and
// never escapes the volume root.
func (t *Table) Resolve(userPath string) (fsdrv.Volume, Info, string, error) {
	name, rest, ok := strings.Cut(userPath, ":")
	if !ok || name == "" {
		return nil, Info{}, "", pkg.ErrInvalidParameter
	}

	s := t.lookup(name)
	if s == nil {
		return nil, Info{}, "", pkg.ErrNoSuchMount
	}

	rel := resolveRelative(s, rest)
	return s.vol, s.info, rel, nil
}

// Chdir sets the working directory of the volume named in userPath.
// The target must name an existing directory on the volume.
func (t *Table) Chdir(userPath string) error {
	vol, _, rel, err := t.Resolve(userPath)
	if err != nil {
		return err
	}

	fi, err := vol.Stat(rel)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return pkg.ErrInvalidParameter
	}

	name, _, _ := strings.Cut(userPath, ":")
	s := t.lookup(name)
	if s == nil {
		return pkg.ErrNoSuchMount
	}

	cwdMu.Lock()
	s.cwd = rel
	cwdMu.Unlock()
	return nil
}

// Cwd returns the working directory of the named volume.
func (t *Table) Cwd(name string) (string, error) {
	s := t.lookup(name)
	if s == nil {
		return "", pkg.ErrNoSuchMount
	}
	cwdMu.Lock()
	defer cwdMu.Unlock()
	return s.cwd, nil
}

func resolveRelative(s *slot, rest string) string {
	rest = strings.ReplaceAll(rest, "\\", "/")

	var joined string
	if strings.HasPrefix(rest, "/") {
		joined = rest
	} else {
		cwdMu.Lock()
		cwd := s.cwd
		cwdMu.Unlock()
		joined = "/" + cwd + "/" + rest
	}

	// Clean against an absolute root so ".." cannot escape the volume.
	cleaned := path.Clean(joined)
	return strings.TrimPrefix(cleaned, "/")
}
