package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const fileExt = ".ckpt"

// DirStore keeps one file per run in a directory. Files are replaced
// atomically, so a crash while saving leaves the previous checkpoint intact.
type DirStore struct {
	dir    string
	logger zerolog.Logger
}

// NewDirStore creates dir if needed and returns a store writing to it.
// Saves are logged at trace level and skipped files at warn level.
func NewDirStore(dir string, logger zerolog.Logger) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &DirStore{dir: dir, logger: logger.With().Str("dir", dir).Logger()}, nil
}

func (d *DirStore) path(id uuid.UUID) string {
	return filepath.Join(d.dir, id.String()+fileExt)
}

func (d *DirStore) Save(r Record) error {
	f, err := os.CreateTemp(d.dir, "."+r.ID.String()+"-*")
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", r.ID, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	w := bufio.NewWriter(f)
	err = r.Serialize(w)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, d.path(r.ID))
	}
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", r.ID, err)
	}

	d.logger.Trace().Str("run", r.ID.String()).Int("cycle", r.Cycle).Int("bytes", len(r.State)).Msg("checkpoint saved")
	return nil
}

func (d *DirStore) Load(id uuid.UUID) (Record, error) {
	var r Record
	f, err := os.Open(d.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return r, fmt.Errorf("loading checkpoint %s: %w", id, err)
	}
	defer f.Close()

	if err := r.Deserialize(bufio.NewReader(f)); err != nil {
		return r, fmt.Errorf("loading checkpoint %s: %w", id, err)
	}
	return r, nil
}

func (d *DirStore) Delete(id uuid.UUID) error {
	if err := os.Remove(d.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("deleting checkpoint %s: %w", id, err)
	}
	return nil
}

func (d *DirStore) List() ([]uuid.UUID, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	var ids []uuid.UUID
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if !ok || e.IsDir() {
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			d.logger.Warn().Str("file", e.Name()).Msg("ignoring checkpoint file with an invalid name")
			continue
		}
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}
