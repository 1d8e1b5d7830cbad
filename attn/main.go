package main

import (
	"fmt"
	"os"

	"github.com/getlantern/errors"
	"github.com/pkg/profile"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/ruffrey/attention-nn-go/attention"
	"github.com/ruffrey/attention-nn-go/data"
)

var log = logrus.New()

var modelFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config",
		Usage: "Optional JSON `file` with the run settings; flags override it",
	},
	cli.StringFlag{
		Name:  "checkpoint-dir",
		Value: "checkpoints",
		Usage: "Existing `dir` checkpoints are written to and loaded from",
	},
	cli.StringFlag{
		Name:  "source-vocab",
		Usage: "Source vocabulary `file`, one token per line",
	},
	cli.StringFlag{
		Name:  "target-vocab",
		Usage: "Target vocabulary `file`, one token per line",
	},
	cli.IntFlag{
		Name:  "hidden",
		Value: 128,
		Usage: "Size of embeddings and LSTM hidden state",
	},
	cli.IntFlag{
		Name:  "layers",
		Value: 2,
		Usage: "Number of stacked LSTM layers in encoder and decoder",
	},
	cli.IntFlag{
		Name:  "batch",
		Value: 32,
		Usage: "Sequences per batch",
	},
	cli.IntFlag{
		Name:  "max-size",
		Value: 30,
		Usage: "Fixed sequence length; longer lines are truncated, shorter padded",
	},
	cli.Float64Flag{
		Name:  "minval",
		Value: -0.1,
		Usage: "Lower bound of the uniform parameter init",
	},
	cli.Float64Flag{
		Name:  "maxval",
		Value: 0.1,
		Usage: "Upper bound of the uniform parameter init",
	},
	cli.Int64Flag{
		Name:  "seed",
		Value: 1,
		Usage: "Random seed for parameter init",
	},
	cli.BoolFlag{
		Name:  "mask-padding",
		Usage: "Leave </s> padding out of the loss",
	},
	cli.BoolFlag{
		Name:  "show",
		Usage: "Show a progress bar",
	},
	cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log every batch",
	},
}

var trainFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "source",
		Usage: "Training source `file`, one sentence per line",
	},
	cli.StringFlag{
		Name:  "target",
		Usage: "Training target `file`, line aligned with --source",
	},
	cli.IntFlag{
		Name:  "epochs",
		Value: 10,
		Usage: "Passes over the training corpus",
	},
	cli.Float64Flag{
		Name:  "learn",
		Value: 1.0,
		Usage: "Initial learning rate, halved after every epoch past the 6th",
	},
	cli.Float64Flag{
		Name:  "gradmax",
		Value: 5.0,
		Usage: "Gradient Clip: max L2 norm of each gradient tensor",
	},
	cli.BoolFlag{
		Name:  "load",
		Usage: "Resume from the latest checkpoint in --checkpoint-dir",
	},
	cli.StringFlag{
		Name:  "test-source",
		Usage: "Optional held-out source `file` evaluated after training",
	},
	cli.StringFlag{
		Name:  "test-target",
		Usage: "Optional held-out target `file` evaluated after training",
	},
	cli.StringFlag{
		Name:  "log-dir",
		Value: "logs",
		Usage: "`dir` the per-batch loss summary is written under",
	},
	cli.StringFlag{
		Name:  "summary-dsn",
		Usage: "MySQL `dsn` to write the loss summary to instead of --log-dir",
	},
	cli.StringFlag{
		Name:  "ntp",
		Usage: "NTP `server` used to timestamp checkpoint names",
	},
}

var testFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "source",
		Usage: "Held-out source `file`",
	},
	cli.StringFlag{
		Name:  "target",
		Usage: "Held-out target `file`",
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "attn: An LSTM encoder/decoder trainer for sequence translation."
	app.Version = "0.1.0"
	app.Usage = ""
	app.Commands = []cli.Command{
		{
			Name:   "train",
			Usage:  "Train a model and checkpoint it after every epoch",
			Flags:  append(append([]cli.Flag{}, modelFlags...), trainFlags...),
			Before: before,
			Action: train,
		},
		{
			Name:   "test",
			Usage:  "Report the perplexity of the latest checkpoint on a held-out corpus",
			Flags:  append(append([]cli.Flag{}, modelFlags...), testFlags...),
			Before: before,
			Action: test,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func before(c *cli.Context) error {
	if c.Bool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// configFromContext layers flags that were set over the config file.
func configFromContext(c *cli.Context) (attention.Config, error) {
	cfg := attention.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = attention.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	strings := map[string]*string{
		"checkpoint-dir": &cfg.CheckpointDir,
		"source-vocab":   &cfg.SourceVocabPath,
		"target-vocab":   &cfg.TargetVocabPath,
		"source":         &cfg.SourceDataPath,
		"target":         &cfg.TargetDataPath,
		"log-dir":        &cfg.LogDir,
		"summary-dsn":    &cfg.SummaryDSN,
		"ntp":            &cfg.NTPServer,
	}
	for name, dst := range strings {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	ints := map[string]*int{
		"hidden":   &cfg.HiddenSize,
		"layers":   &cfg.NumLayers,
		"batch":    &cfg.BatchSize,
		"max-size": &cfg.MaxSize,
		"epochs":   &cfg.Epochs,
	}
	for name, dst := range ints {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	reals := map[string]*float64{
		"minval":  &cfg.MinVal,
		"maxval":  &cfg.MaxVal,
		"learn":   &cfg.LearningRate,
		"gradmax": &cfg.MaxGradNorm,
	}
	for name, dst := range reals {
		if c.IsSet(name) {
			*dst = c.Float64(name)
		}
	}
	if c.IsSet("seed") {
		cfg.Seed = c.Int64("seed")
	}
	if c.IsSet("mask-padding") {
		cfg.MaskPadding = c.Bool("mask-padding")
	}
	if c.IsSet("show") {
		cfg.Show = c.Bool("show")
	}

	if cfg.SourceVocabPath == "" || cfg.TargetVocabPath == "" {
		return cfg, errors.New("Missing required vocabulary files: --source-vocab and --target-vocab")
	}
	return cfg, nil
}

// run is everything a command needs, built from the flags.
type run struct {
	cfg         attention.Config
	sess        *attention.Session
	model       *attention.Model
	sourceVocab *data.Vocabulary
	targetVocab *data.Vocabulary
}

func setup(c *cli.Context, opts ...attention.Option) (*run, error) {
	cfg, err := configFromContext(c)
	if err != nil {
		return nil, err
	}

	r := &run{}
	if r.sourceVocab, err = data.ReadVocabulary(cfg.SourceVocabPath); err != nil {
		return nil, err
	}
	if r.targetVocab, err = data.ReadVocabulary(cfg.TargetVocabPath); err != nil {
		return nil, err
	}
	cfg.SourceVocabSize = r.sourceVocab.Len()
	cfg.TargetVocabSize = r.targetVocab.Len()
	if cfg.MaskPadding {
		cfg.PadIndex = r.targetVocab.EndIndex()
	}
	r.cfg = cfg

	opts = append([]attention.Option{attention.WithLogger(log)}, opts...)
	if cfg.Show {
		opts = append(opts, attention.WithProgress(func(title string, total int) attention.Progress {
			return progressbar.Default(int64(total), title)
		}))
	}

	r.sess = attention.NewSession(cfg.Seed, log)
	if r.model, err = attention.New(cfg, r.sess, opts...); err != nil {
		r.sess.Close()
		return nil, err
	}
	return r, nil
}

func (r *run) corpus(source string, target string) *data.Corpus {
	return &data.Corpus{
		SourcePath:  source,
		TargetPath:  target,
		SourceVocab: r.sourceVocab,
		TargetVocab: r.targetVocab,
		MaxSize:     r.cfg.MaxSize,
		BatchSize:   r.cfg.BatchSize,
	}
}

// startProfile honours PERF=cpu or PERF=mem.
func startProfile() interface{ Stop() } {
	switch os.Getenv("PERF") {
	case "cpu":
		return profile.Start(profile.CPUProfile)
	case "mem":
		return profile.Start(profile.MemProfile)
	}
	return nil
}

func train(c *cli.Context) error {
	if p := startProfile(); p != nil {
		defer p.Stop()
	}

	// the summary sink needs the run name before the model exists
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	clock := attention.Clock(attention.SystemClock)
	if cfg.NTPServer != "" {
		clock = attention.NTPClock(cfg.NTPServer, log)
	}
	opts := []attention.Option{attention.WithClock(clock)}
	if sink := openSummary(cfg, attention.ModelName(clock())); sink != nil {
		defer sink.Close()
		opts = append(opts, attention.WithSummary(sink))
	}

	r, err := setup(c, opts...)
	if err != nil {
		return err
	}
	defer r.sess.Close()

	if r.cfg.SourceDataPath == "" || r.cfg.TargetDataPath == "" {
		return errors.New("Missing required training files: --source and --target")
	}
	if c.Bool("load") {
		if err := r.model.Load(); err != nil {
			return err
		}
	}

	log.WithFields(logrus.Fields{
		"learn rate":    r.cfg.LearningRate,
		"gradient clip": r.cfg.MaxGradNorm,
		"max size":      r.cfg.MaxSize,
		"batch size":    r.cfg.BatchSize,
		"epochs":        r.cfg.Epochs,
	}).Info("Optimization params")

	result, err := r.model.Train(r.corpus(r.cfg.SourceDataPath, r.cfg.TargetDataPath))
	if err != nil {
		return err
	}
	fmt.Printf("Loss: %v\n", result.Loss())

	testSource, testTarget := c.String("test-source"), c.String("test-target")
	if testSource != "" && testTarget != "" {
		ppl, err := r.model.Test(r.corpus(testSource, testTarget))
		if err != nil {
			return err
		}
		fmt.Printf("Perplexity: %v\n", ppl)
	}
	return nil
}

func test(c *cli.Context) error {
	r, err := setup(c)
	if err != nil {
		return err
	}
	defer r.sess.Close()

	source, target := c.String("source"), c.String("target")
	if source == "" || target == "" {
		return errors.New("Missing required held-out files: --source and --target")
	}
	if err := r.model.Load(); err != nil {
		return err
	}
	ppl, err := r.model.Test(r.corpus(source, target))
	if err != nil {
		return err
	}
	fmt.Printf("Perplexity: %v\n", ppl)
	return nil
}

type summarySink interface {
	attention.ScalarWriter
	Close() error
}

// openSummary returns nil when no sink can be opened; training goes on
// without one.
func openSummary(cfg attention.Config, run string) summarySink {
	if cfg.SummaryDSN != "" {
		w, err := attention.NewSQLSummaryWriter(cfg.SummaryDSN, run)
		if err == nil {
			return w
		}
		log.WithError(err).Warn("summary database unavailable, falling back to files")
	}
	w, err := attention.NewFileSummaryWriter(cfg.LogDir, run)
	if err != nil {
		log.WithError(err).Warn("no loss summary will be written")
		return nil
	}
	return w
}
