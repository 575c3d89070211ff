package epub

import (
	"archive/zip"
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"github.com/spf13/afero/zipfs"
	"golang.org/x/text/unicode/norm"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
)

// Source gives the loader access to the files of a publication. Paths are
// archive paths relative to the container root.
//
// Absence is reported through the boolean result and is not itself a
// diagnostic; read failures of files that do exist are pushed onto dc.
type Source interface {
	ReadText(ctx context.Context, path string, dc *diag.Context) (string, bool)
	ReadBinary(ctx context.Context, path string, dc *diag.Context) ([]byte, bool)
}

// Globber is implemented by sources that can list their files. The resolver
// uses it to discover a package document when container.xml is unusable.
type Globber interface {
	Glob(pattern string) []string
}

// FSSource is a Source backed by an afero filesystem. Lookups are exact
// first and then fall back to a case-insensitive, NFC-normalized match,
// since archives produced on different platforms disagree on both.
type FSSource struct {
	fs    afero.Fs
	limit int64
	first string // first archive entry, zip sources only

	once   sync.Once
	paths  []string
	folded map[string]string
}

var _ interface {
	Source
	Globber
} = (*FSSource)(nil)

// NewFSSource returns a Source reading from fsys. Use afero.NewBasePathFs to
// serve an unpacked publication directory.
func NewFSSource(fsys afero.Fs) *FSSource {
	return &FSSource{fs: fsys, limit: defaultMaxEntrySize}
}

// newZipSource serves the entries of zr through afero's zipfs. The path
// index is built from the central directory, which also covers archives
// without explicit directory entries.
func newZipSource(zr *zip.Reader, limit int64) *FSSource {
	s := &FSSource{fs: zipfs.New(zr), limit: limit}
	if len(zr.File) > 0 {
		s.first = zr.File[0].Name
	}
	names := zipEntryNames(zr)
	s.once.Do(func() { s.setIndex(names) })
	return s
}

// FirstEntry returns the name of the first archive entry, or "" when the
// source is not a zip archive.
func (s *FSSource) FirstEntry() string {
	return s.first
}

// ReadBinary implements Source.
func (s *FSSource) ReadBinary(ctx context.Context, name string, dc *diag.Context) ([]byte, bool) {
	if err := ctx.Err(); err != nil {
		dc.Errorf("read %s: %v", name, err)
		return nil, false
	}
	actual, ok := s.resolve(name)
	if !ok {
		return nil, false
	}
	data, err := s.read(actual)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false
		}
		dc.Errorf("failed to read %s: %v", name, err)
		return nil, false
	}
	return data, true
}

// ReadText implements Source. A leading UTF-8 BOM is removed.
func (s *FSSource) ReadText(ctx context.Context, name string, dc *diag.Context) (string, bool) {
	data, ok := s.ReadBinary(ctx, name, dc)
	if !ok {
		return "", false
	}
	return string(markup.StripBOM(data)), true
}

// Glob returns the files matching a doublestar pattern such as "**/*.opf",
// in archive order for zip sources and lexical order otherwise.
func (s *FSSource) Glob(pattern string) []string {
	s.ensureIndex()
	var out []string
	for _, p := range s.paths {
		if ok, _ := doublestar.Match(pattern, p); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *FSSource) resolve(name string) (string, bool) {
	name = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(name)), "./")
	if name == "" || !isSafePath(name) {
		return "", false
	}
	name = path.Clean(name)
	if fi, err := s.fs.Stat(name); err == nil && !fi.IsDir() {
		return name, true
	}
	s.ensureIndex()
	actual, ok := s.folded[foldPath(name)]
	return actual, ok
}

func (s *FSSource) read(name string) ([]byte, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return readLimited(f, name, fi.Size(), s.limit)
}

func (s *FSSource) ensureIndex() {
	s.once.Do(func() {
		var names []string
		_ = afero.Walk(s.fs, ".", func(p string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			p = filepath.ToSlash(p)
			if isSafePath(p) {
				names = append(names, p)
			}
			return nil
		})
		s.setIndex(names)
	})
}

func (s *FSSource) setIndex(names []string) {
	s.paths = names
	s.folded = make(map[string]string, len(names))
	for _, n := range names {
		k := foldPath(n)
		if _, exists := s.folded[k]; !exists {
			s.folded[k] = n // first match wins
		}
	}
}

func foldPath(p string) string {
	return strings.ToLower(norm.NFC.String(p))
}
