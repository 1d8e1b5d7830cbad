package attention

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

/*
Config holds the hyperparameters and paths of one run. It is not
changed after New.
*/
type Config struct {
	HiddenSize      int     `json:"hidden_size"`
	NumLayers       int     `json:"num_layers"`
	BatchSize       int     `json:"batch_size"`
	MaxSize         int     `json:"max_size"` // fixed sequence length
	Epochs          int     `json:"epochs"`
	SourceVocabSize int     `json:"s_nwords"`
	TargetVocabSize int     `json:"t_nwords"`
	MinVal          float64 `json:"minval"` // uniform init lower bound
	MaxVal          float64 `json:"maxval"`
	LearningRate    float64 `json:"lr_init"`
	MaxGradNorm     float64 `json:"max_grad_norm"`
	CheckpointDir   string  `json:"checkpoint_dir"`
	Show            bool    `json:"show"` // progress bar

	// MaskPadding gives target positions equal to PadIndex zero weight in
	// the loss. Off by default: every position counts, padding included.
	MaskPadding bool `json:"mask_padding"`
	PadIndex    int  `json:"pad_index"`

	Seed       int64  `json:"seed"`
	LogDir     string `json:"log_dir"`
	NTPServer  string `json:"ntp_server"`
	SummaryDSN string `json:"summary_dsn"`

	SourceDataPath  string `json:"source_data_path"`
	TargetDataPath  string `json:"target_data_path"`
	SourceVocabPath string `json:"source_vocab_path"`
	TargetVocabPath string `json:"target_vocab_path"`
}

/*
DefaultConfig returns the settings used when nothing else is given.
*/
func DefaultConfig() Config {
	return Config{
		HiddenSize:    128,
		NumLayers:     2,
		BatchSize:     32,
		MaxSize:       30,
		Epochs:        10,
		MinVal:        -0.1,
		MaxVal:        0.1,
		LearningRate:  1.0,
		MaxGradNorm:   5.0,
		CheckpointDir: "checkpoints",
		LogDir:        "logs",
		Seed:          1,
	}
}

/*
LoadConfig reads a JSON file over DefaultConfig.
*/
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

/*
Validate checks the sizes and ranges. It does not touch the filesystem.
*/
func (c Config) Validate() error {
	switch {
	case c.HiddenSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "hidden_size %d", c.HiddenSize)
	case c.NumLayers < 1:
		return errors.Wrapf(ErrInvalidConfig, "num_layers %d", c.NumLayers)
	case c.BatchSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "batch_size %d", c.BatchSize)
	case c.MaxSize < 2:
		return errors.Wrapf(ErrInvalidConfig, "max_size %d, need at least 2 steps", c.MaxSize)
	case c.Epochs < 0:
		return errors.Wrapf(ErrInvalidConfig, "epochs %d", c.Epochs)
	case c.SourceVocabSize < 1 || c.TargetVocabSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "vocabulary sizes %d/%d", c.SourceVocabSize, c.TargetVocabSize)
	case c.MinVal >= c.MaxVal:
		return errors.Wrapf(ErrInvalidConfig, "minval %v is not below maxval %v", c.MinVal, c.MaxVal)
	case c.LearningRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "lr_init %v", c.LearningRate)
	case c.MaxGradNorm <= 0:
		return errors.Wrapf(ErrInvalidConfig, "max_grad_norm %v", c.MaxGradNorm)
	case c.MaskPadding && (c.PadIndex < 0 || c.PadIndex >= c.TargetVocabSize):
		return errors.Wrapf(ErrInvalidConfig, "pad_index %d", c.PadIndex)
	}
	return nil
}

func (c Config) checkpointDirExists() error {
	info, err := os.Stat(c.CheckpointDir)
	if err != nil || !info.IsDir() {
		return errors.Wrapf(ErrCheckpointDirNotFound, "[!] Directory %s not found", c.CheckpointDir)
	}
	return nil
}
