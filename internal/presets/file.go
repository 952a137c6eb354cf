package presets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	fileExt       = ".json"
	lockFileName  = ".lock"
	lockRetryWait = 25 * time.Millisecond
)

// FileStore keeps one JSON document per preset in a directory. Writers
// serialize on an advisory file lock so a CLI and a daemon can share the
// directory; each write lands through a temp file and rename.
type FileStore struct {
	basePath string
	lockPath string
	clock    func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("presets: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("presets: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		lockPath: filepath.Join(basePath, lockFileName),
		clock:    time.Now,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	return s.basePath
}

func (s *FileStore) Save(ctx context.Context, p Preset) (Preset, error) {
	name, err := NormalizeName(p.Name)
	if err != nil {
		return Preset{}, err
	}
	p.Name = name
	p.UpdatedAt = s.clock().UTC()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return Preset{}, fmt.Errorf("presets: encode: %w", err)
	}

	unlock, err := s.acquire(ctx)
	if err != nil {
		return Preset{}, err
	}
	defer unlock()

	tmp, err := os.CreateTemp(s.basePath, ".preset-*")
	if err != nil {
		return Preset{}, fmt.Errorf("presets: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Preset{}, fmt.Errorf("presets: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Preset{}, fmt.Errorf("presets: close file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return Preset{}, fmt.Errorf("presets: rename file: %w", err)
	}
	return p, nil
}

func (s *FileStore) Load(ctx context.Context, name string) (Preset, error) {
	if err := ctx.Err(); err != nil {
		return Preset{}, err
	}
	name, err := NormalizeName(name)
	if err != nil {
		return Preset{}, err
	}
	return s.read(s.path(name))
}

func (s *FileStore) List(ctx context.Context) ([]Preset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("presets: read dir: %w", err)
	}
	out := []Preset{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		p, err := s.read(filepath.Join(s.basePath, e.Name()))
		if err != nil {
			// Removed between ReadDir and read.
			if errors.Is(err, ErrPresetNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrPresetNotFound
		}
		return fmt.Errorf("presets: remove file: %w", err)
	}
	return nil
}

// acquire takes the directory lock through a fresh handle. A handle that
// already holds the lock reports success again, so sharing one between
// goroutines would let two writers in at once.
func (s *FileStore) acquire(ctx context.Context) (func(), error) {
	lock := flock.New(s.lockPath)
	ok, err := lock.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		return nil, fmt.Errorf("presets: acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("presets: lock not acquired")
	}
	return func() { _ = lock.Unlock() }, nil
}

func (s *FileStore) read(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Preset{}, ErrPresetNotFound
		}
		return Preset{}, fmt.Errorf("presets: read file: %w", err)
	}
	var p Preset
	if err := json.Unmarshal(data, &p); err != nil {
		return Preset{}, fmt.Errorf("presets: decode %s: %w", filepath.Base(path), err)
	}
	return p, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.basePath, name+fileExt)
}

var _ Store = (*FileStore)(nil)
