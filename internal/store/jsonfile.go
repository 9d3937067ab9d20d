package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SaveSnapshot atomically writes a run-output document. The pipeline's
// incremental checkpointing overwrites the whole snapshot each time, so a
// crash leaves a consistent file.
func SaveSnapshot(path string, v any) error {
	return saveJSON(path, v)
}

// LoadSnapshot reads a run-output document, reporting whether the file
// existed and parsed.
func LoadSnapshot(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "read snapshot %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eris.Wrapf(err, "parse snapshot %s", path)
	}
	return true, nil
}

// loadJSON reads a JSON document into v. A missing or corrupt file is not
// an error: stores start empty and the condition is logged at info level.
func loadJSON(path string, v any, log *zap.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Info("store file unreadable, starting empty",
				zap.String("path", path), zap.Error(err))
		}
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Info("store file corrupt, starting empty",
			zap.String("path", path), zap.Error(err))
	}
}

// saveJSON writes v atomically: marshal, write to a temp file in the same
// directory, rename over the target. A crash never leaves a half-written
// store behind.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal store")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create store dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "create temp store file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "write temp store file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "close temp store file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "rename store file to %s", path)
	}
	return nil
}
