package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/banshee-data/paramsweep/internal/fsutil"
	"github.com/banshee-data/paramsweep/internal/grid"
	"github.com/banshee-data/paramsweep/internal/monitoring"
	"github.com/google/uuid"
)

// Ext is the file extension of checkpoint blobs.
const Ext = ".ckpt"

// Store reads and writes one checkpoint file per sub-study. A write is
// published with a rename, so readers see either the previous checkpoint or
// the new one, never a partial file.
type Store struct {
	fs fsutil.FileSystem
}

// NewStore creates a store over fsys. A nil fsys uses the OS filesystem.
func NewStore(fsys fsutil.FileSystem) *Store {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Store{fs: fsys}
}

// Path returns the checkpoint file of subStudy inside dir.
func (s *Store) Path(dir, subStudy string) string {
	return filepath.Join(dir, subStudy+Ext)
}

func validName(subStudy string) error {
	if subStudy == "" || strings.ContainsAny(subStudy, `/\`) || subStudy == "." || subStudy == ".." {
		return fmt.Errorf("invalid sub-study name %q for a checkpoint file", subStudy)
	}
	return nil
}

// Read loads the checkpoint of subStudy. The boolean is false, with a nil
// error, when no checkpoint exists.
func (s *Store) Read(dir, subStudy string) (*grid.Array, bool, error) {
	if err := validName(subStudy); err != nil {
		return nil, false, err
	}
	data, err := s.fs.ReadFile(s.Path(dir, subStudy))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read checkpoint: %w", err)
	}
	arr, err := Decode(data)
	if err != nil {
		return nil, false, err
	}
	if arr.SubStudy != subStudy {
		return nil, false, &SchemaError{SubStudy: subStudy, Reason: fmt.Sprintf("file holds sub-study %q", arr.SubStudy)}
	}
	return arr, true, nil
}

// Write replaces the checkpoint of subStudy with arr.
func (s *Store) Write(dir, subStudy string, arr *grid.Array) error {
	if err := validName(subStudy); err != nil {
		return err
	}
	data, err := Encode(arr)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	final := s.Path(dir, subStudy)
	tmp := final + ".tmp-" + uuid.NewString()
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	monitoring.WithComponent("checkpoint").
		WithField("sub_study", subStudy).
		WithField("bytes", len(data)).
		Debug("checkpoint written")
	return nil
}

// List returns the sub-studies that have a checkpoint in dir. A missing
// directory holds none.
func (s *Store) List(dir string) ([]string, error) {
	names, err := s.fs.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var subs []string
	for _, name := range names {
		if sub, ok := strings.CutSuffix(name, Ext); ok {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}
