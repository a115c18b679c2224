package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/hupe1980/segmesh/core"
)

// FSStore keeps artifacts as files below a root directory:
// <root>/<runID>/<name>. It works on any afero filesystem; tests use
// afero.NewMemMapFs.
type FSStore struct {
	fs   *afero.Afero
	root string
	opts FSOptions
}

// FSOptions configures an FSStore.
type FSOptions struct {
	// AllowAbsolutePaths lets LoadImage read absolute paths outside the
	// root. When false an absolute path is resolved below the root.
	AllowAbsolutePaths bool
}

var (
	_ core.ArtifactStore = (*FSStore)(nil)
	_ core.ImageLoader   = (*FSStore)(nil)
)

// NewFSStore creates a store rooted at root on fsys. A nil fsys uses the OS
// filesystem.
func NewFSStore(fsys afero.Fs, root string, optFns ...func(o *FSOptions)) (*FSStore, error) {
	opts := FSOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	a := &afero.Afero{Fs: fsys}
	if err := a.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root %s: %w", root, err)
	}
	return &FSStore{fs: a, root: root, opts: opts}, nil
}

// Root returns the directory artifacts are written to.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) path(runID, name string) (string, error) {
	if err := checkSegment(runID); err != nil {
		return "", err
	}
	if err := checkSegment(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, runID, name), nil
}

// Save writes the bytes and returns the artifact key.
func (s *FSStore) Save(_ context.Context, runID, name string, data []byte) (string, error) {
	p, err := s.path(runID, name)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	if err := s.fs.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", name, err)
	}
	return Key(runID, name), nil
}

// Get reads an artifact or returns ErrNotFound.
func (s *FSStore) Get(_ context.Context, runID, name string) ([]byte, error) {
	p, err := s.path(runID, name)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// List returns the sorted artifact names of a run.
func (s *FSStore) List(_ context.Context, runID string) ([]string, error) {
	if err := checkSegment(runID); err != nil {
		return nil, err
	}
	infos, err := s.fs.ReadDir(filepath.Join(s.root, runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes an artifact or returns ErrNotFound.
func (s *FSStore) Delete(_ context.Context, runID, name string) error {
	p, err := s.path(runID, name)
	if err != nil {
		return err
	}
	ok, err := s.fs.Exists(p)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.fs.Remove(p)
}

// LoadImage resolves an artifact key first and falls back to a plain path
// below the root. Absolute paths leave the root only with
// AllowAbsolutePaths.
func (s *FSStore) LoadImage(ctx context.Context, ref core.ImageRef) ([]byte, error) {
	if runID, name, err := SplitKey(ref.Key); err == nil {
		if data, err := s.Get(ctx, runID, name); err == nil {
			return data, nil
		}
	}

	p := ref.Key
	if !filepath.IsAbs(p) || !s.opts.AllowAbsolutePaths {
		clean := path.Clean("/" + filepath.ToSlash(p))
		p = filepath.Join(s.root, filepath.FromSlash(clean))
	}
	data, err := s.fs.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("image %q: %w", ref.Key, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
