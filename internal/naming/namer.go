package naming

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrDestinationExists is returned by a no-clobber move whose target appeared
// after it was reserved.
var ErrDestinationExists = errors.New("destination exists")

// Reserve returns desired if nothing exists there, otherwise the first free
// "stem (n)ext" for n = 1, 2, ...
func Reserve(desired string) (string, error) {
	free, err := available(desired)
	if err != nil || free {
		return desired, err
	}
	dir := filepath.Dir(desired)
	base := filepath.Base(desired)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		free, err := available(candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
}

func available(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// Namer serializes reserve+move per desired output path so two pipelines
// rendering the same name cannot both claim it.
type Namer struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func NewNamer() *Namer {
	return &Namer{locks: make(map[string]*pathLock)}
}

func (n *Namer) lock(path string) func() {
	n.mu.Lock()
	l, ok := n.locks[path]
	if !ok {
		l = &pathLock{}
		n.locks[path] = l
	}
	l.refs++
	n.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		n.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(n.locks, path)
		}
		n.mu.Unlock()
	}
}

// MoveUnique moves src to the first free path derived from desired and
// returns it. A destination that appears between reserve and move is retried
// once with the next number.
func (n *Namer) MoveUnique(src, desired string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(desired), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	unlock := n.lock(desired)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		final, err := Reserve(desired)
		if err != nil {
			return "", err
		}
		err = moveNoClobber(src, final)
		if err == nil {
			return final, nil
		}
		if !errors.Is(err, ErrDestinationExists) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// moveNoClobber hard-links src to dst (which fails if dst exists) and removes
// src. Filesystems without links, or crossing devices, fall back to an
// exclusive-create copy.
func moveNoClobber(src, dst string) error {
	err := os.Link(src, dst)
	switch {
	case err == nil:
		if rmErr := os.Remove(src); rmErr != nil {
			return fmt.Errorf("remove source after link: %w", rmErr)
		}
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("move %s: %w", src, err)
	}
	return copyExclusive(src, dst)
}

func copyExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	_ = in.Close()
	return os.Remove(src)
}
