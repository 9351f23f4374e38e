package staging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/squishvid/squish/internal/util"
)

// Store keeps a copy of each compressed file in a user-chosen directory
// before the cloud upload runs, so a failed upload never loses the
// result. A Store with an empty dir is valid and permanently disabled.
type Store struct {
	dir string
}

// New probes dir for writability. An unwritable directory disables
// staging with a warning instead of failing the server.
func New(dir string) *Store {
	if dir == "" {
		return &Store{}
	}
	if err := probeWritable(dir); err != nil {
		log.Printf("[Staging] WARNING: %s not writable (%v), staging disabled", dir, err)
		return &Store{}
	}
	log.Printf("[Staging] Saving compressed files to %s", dir)
	return &Store{dir: dir}
}

func (s *Store) Enabled() bool {
	return s != nil && s.dir != ""
}

// Save copies src into the staging directory under name. The copy goes
// through a temp file so a crash never leaves a truncated stage.
func (s *Store) Save(src, name string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("staging disabled")
	}

	dst := filepath.Join(s.dir, util.SanitizeFilename(name))
	tmp := dst + ".part"

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return dst, nil
}

func (s *Store) Remove(name string) error {
	if !s.Enabled() {
		return nil
	}
	return os.Remove(filepath.Join(s.dir, util.SanitizeFilename(name)))
}

func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}
