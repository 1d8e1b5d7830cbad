package attention

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// checkpointIndex is the file in CheckpointDir naming the latest checkpoint.
const checkpointIndex = "checkpoint"

const checkpointExt = ".json.gz"

/*
ModelName names a run after the wall-clock month, day and hour.
*/
func ModelName(t time.Time) string {
	return fmt.Sprintf("attention-%d-%d-%d", int(t.Month()), t.Day(), t.Hour())
}

type tensor struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	W    []float64 `json:"w"`
}

// snapshot is what gets persisted. Only weights are kept, gradients are
// always zero between batches.
type snapshot struct {
	Name         string             `json:"name"`
	GlobalStep   int                `json:"global_step"`
	LearningRate float64            `json:"learning_rate"`
	Params       map[string]*tensor `json:"params"`
}

type index struct {
	Latest string   `json:"model_checkpoint_path"`
	All    []string `json:"all_model_checkpoint_paths"`
}

/*
Save writes every parameter, the global step and the learning rate to
<CheckpointDir>/<name>-<step>.json.gz and points the checkpoint index at
it. It returns the written path. Checkpoints are never deleted.
*/
func (m *Model) Save(name string, step int) (string, error) {
	base := fmt.Sprintf("%s-%d", name, step)
	path := filepath.Join(m.cfg.CheckpointDir, base+checkpointExt)

	snap := snapshot{
		Name:         base,
		GlobalStep:   m.GlobalStep,
		LearningRate: m.LearningRate,
		Params:       make(map[string]*tensor, len(m.params)),
	}
	for k, p := range m.params {
		snap.Params[k] = &tensor{Rows: p.RowCount, Cols: p.ColumnCount, W: p.W}
	}

	err := writeAtomic(path, func(f *os.File) error {
		zw := gzip.NewWriter(f)
		if err := json.NewEncoder(zw).Encode(&snap); err != nil {
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return "", errors.Wrapf(err, "save checkpoint %s", base)
	}

	idx, err := m.readIndex()
	if err != nil && errors.Cause(err) != ErrNoCheckpoint {
		return "", err
	}
	idx.Latest = base
	idx.All = appendUnique(idx.All, base)
	err = writeAtomic(filepath.Join(m.cfg.CheckpointDir, checkpointIndex), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(&idx)
	})
	if err != nil {
		return "", errors.Wrap(err, "update checkpoint index")
	}

	m.log.WithFields(logrus.Fields{
		"path": path,
		"step": m.GlobalStep,
	}).Info("checkpoint saved")
	return path, nil
}

/*
Load restores the parameters, global step and learning rate from the
latest checkpoint in CheckpointDir. It fails with ErrNoCheckpoint when
there is none, and with ErrCheckpointMismatch when the stored tensors do
not fit this model; in both cases the model is left untouched.
*/
func (m *Model) Load() error {
	m.log.Info("[*] Reading checkpoints...")
	if err := m.sess.check(); err != nil {
		return err
	}
	idx, err := m.readIndex()
	if err != nil {
		return err
	}

	path := filepath.Join(m.cfg.CheckpointDir, idx.Latest+checkpointExt)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrNoCheckpoint, "%s", path)
	}
	if err != nil {
		return errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "read checkpoint %s", path)
	}
	var snap snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return errors.Wrapf(err, "decode checkpoint %s", path)
	}

	// check everything before touching any weight
	if len(snap.Params) != len(m.params) {
		return errors.Wrapf(ErrCheckpointMismatch, "%d tensors stored, model has %d", len(snap.Params), len(m.params))
	}
	for k, p := range m.params {
		t, ok := snap.Params[k]
		if !ok {
			return errors.Wrapf(ErrCheckpointMismatch, "tensor %s missing", k)
		}
		if t.Rows != p.RowCount || t.Cols != p.ColumnCount || len(t.W) != len(p.W) {
			return errors.Wrapf(ErrCheckpointMismatch, "tensor %s is %dx%d, model has %dx%d", k, t.Rows, t.Cols, p.RowCount, p.ColumnCount)
		}
	}

	for k, p := range m.params {
		copy(p.W, snap.Params[k].W)
		p.ZeroGrad()
	}
	m.GlobalStep = snap.GlobalStep
	m.LearningRate = snap.LearningRate

	m.log.WithFields(logrus.Fields{
		"path": path,
		"step": m.GlobalStep,
		"lr":   m.LearningRate,
	}).Info("checkpoint loaded")
	return nil
}

func (m *Model) readIndex() (index, error) {
	var idx index
	b, err := os.ReadFile(filepath.Join(m.cfg.CheckpointDir, checkpointIndex))
	if os.IsNotExist(err) {
		return idx, errors.Wrapf(ErrNoCheckpoint, "[!] No checkpoint found in %s", m.cfg.CheckpointDir)
	}
	if err != nil {
		return idx, errors.Wrap(err, "read checkpoint index")
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return idx, errors.Wrap(err, "parse checkpoint index")
	}
	if idx.Latest == "" {
		return idx, errors.Wrapf(ErrNoCheckpoint, "[!] No checkpoint found in %s", m.cfg.CheckpointDir)
	}
	return idx, nil
}

// writeAtomic writes through a temporary file in the same directory and
// renames it over path.
func writeAtomic(path string, write func(*os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
