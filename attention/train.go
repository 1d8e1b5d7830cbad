package attention

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ruffrey/attention-nn-go/data"
)

// lrDecayEpoch is the last epoch trained without halving the learning
// rate afterwards.
const lrDecayEpoch = 5

/*
Progress is advanced once per batch. It only observes.
*/
type Progress interface {
	Add(n int) error
	Finish() error
}

// ProgressFunc makes a Progress for total ticks.
type ProgressFunc func(title string, total int) Progress

/*
EpochStats is the outcome of one training epoch.
*/
type EpochStats struct {
	Epoch        int
	Loss         float64 // average batch loss
	LearningRate float64 // rate the epoch was trained with
	GlobalStep   int
	Checkpoint   string
}

/*
TrainResult collects every epoch of a Train call.
*/
type TrainResult struct {
	Epochs []EpochStats
}

// Loss is the average loss of the last epoch.
func (r *TrainResult) Loss() float64 {
	if len(r.Epochs) == 0 {
		return 0
	}
	return r.Epochs[len(r.Epochs)-1].Loss
}

// decayLearningRate is the rate to use after finishing epoch.
func decayLearningRate(epoch int, lr float64) float64 {
	if epoch > lrDecayEpoch {
		return lr / 2
	}
	return lr
}

/*
Train runs Config.Epochs passes over corpus. After every epoch a
checkpoint is saved and, past epoch 5, the learning rate is halved. The
first failing batch aborts the run; the epochs finished before it are
returned with the error and stay checkpointed.
*/
func (m *Model) Train(corpus data.Source) (*TrainResult, error) {
	result := &TrainResult{}
	n, err := corpus.Len()
	if err != nil {
		return result, errors.Wrap(err, "count batches")
	}
	if n == 0 {
		return result, ErrEmptyCorpus
	}

	var bar Progress
	if m.cfg.Show && m.progress != nil {
		bar = m.progress("Train", m.cfg.Epochs*n)
	}

	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		stats, err := m.trainEpoch(epoch, corpus, bar)
		if err != nil {
			return result, err
		}
		result.Epochs = append(result.Epochs, stats)

		m.log.WithFields(logrus.Fields{
			"epoch":      epoch,
			"loss":       stats.Loss,
			"lr":         stats.LearningRate,
			"step":       stats.GlobalStep,
			"checkpoint": stats.Checkpoint,
		}).Info("epoch finished")
	}

	if bar != nil {
		bar.Finish()
	}
	return result, nil
}

func (m *Model) trainEpoch(epoch int, corpus data.Source, bar Progress) (EpochStats, error) {
	stats := EpochStats{Epoch: epoch, LearningRate: m.LearningRate}

	it, err := corpus.Open()
	if err != nil {
		return stats, errors.Wrapf(err, "epoch %d", epoch)
	}
	defer it.Close()

	batches := 0
	totalLoss := 0.0
	for it.Next() {
		source, target := it.Batch()
		loss, err := m.TrainStep(source, target)
		if err != nil {
			return stats, errors.Wrapf(err, "epoch %d batch %d", epoch, batches)
		}
		totalLoss += loss
		batches++

		if m.summary != nil {
			if err := m.summary.WriteScalar("loss", m.GlobalStep, loss); err != nil {
				m.log.WithError(err).Warn("summary write failed")
			}
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if err := it.Err(); err != nil {
		return stats, errors.Wrapf(err, "epoch %d", epoch)
	}
	if batches == 0 {
		return stats, errors.Wrapf(ErrEmptyCorpus, "epoch %d", epoch)
	}

	path, err := m.Save(ModelName(m.clock()), m.GlobalStep)
	if err != nil {
		return stats, err
	}
	m.LearningRate = decayLearningRate(epoch, m.LearningRate)

	stats.Loss = totalLoss / float64(batches)
	stats.GlobalStep = m.GlobalStep
	stats.Checkpoint = path
	return stats, nil
}
