// Package enrich backfills sparse instrument records from the provider
// catalog in resumable batches. Progress lives in a checkpoint file so an
// interrupted process picks up at the next offset instead of starting over.
package enrich

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/glarus-data/instrument-cli/internal/model"
)

// LoadCheckpoint reads the checkpoint file. A missing file yields a zero
// checkpoint, not an error.
func LoadCheckpoint(path string) (*model.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.Checkpoint{}, nil
		}
		return nil, eris.Wrapf(err, "enrich: read checkpoint %s", path)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrapf(err, "enrich: decode checkpoint %s", path)
	}
	return &cp, nil
}

// SaveCheckpoint writes the checkpoint atomically: a sibling temp file is
// written first and renamed over the target, so a crash mid-write never
// leaves a torn checkpoint behind.
func SaveCheckpoint(path string, cp *model.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return eris.Wrap(err, "enrich: encode checkpoint")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "enrich: create checkpoint dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return eris.Wrap(err, "enrich: create temp checkpoint")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmpPath)    //nolint:errcheck
		return eris.Wrap(err, "enrich: write temp checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrap(err, "enrich: close temp checkpoint")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return eris.Wrapf(err, "enrich: rename checkpoint %s", path)
	}
	return nil
}
