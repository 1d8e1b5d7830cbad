package attention

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ruffrey/attention-nn-go/data"
)

/*
Test runs the forward pass over a held-out corpus and returns the
perplexity, exp of the average per-token loss. No parameter and no
training state is changed.
*/
func (m *Model) Test(corpus data.Source) (float64, error) {
	n, err := corpus.Len()
	if err != nil {
		return 0, errors.Wrap(err, "count batches")
	}
	if n == 0 {
		return 0, ErrEmptyCorpus
	}

	var bar Progress
	if m.cfg.Show && m.progress != nil {
		bar = m.progress("Test", n)
	}

	it, err := corpus.Open()
	if err != nil {
		return 0, errors.Wrap(err, "open test corpus")
	}
	defer it.Close()

	batches := 0
	totalLoss := 0.0
	for it.Next() {
		source, target := it.Batch()
		loss, err := m.Loss(source, target)
		if err != nil {
			return 0, errors.Wrapf(err, "test batch %d", batches)
		}
		totalLoss += loss
		batches++
		if bar != nil {
			bar.Add(1)
		}
	}
	if err := it.Err(); err != nil {
		return 0, errors.Wrap(err, "read test corpus")
	}
	if batches == 0 {
		return 0, ErrEmptyCorpus
	}
	if bar != nil {
		bar.Finish()
	}

	avg := totalLoss / float64(batches)
	perplexity := math.Exp(avg)
	m.log.WithFields(logrus.Fields{
		"batches":    batches,
		"loss":       avg,
		"perplexity": perplexity,
	}).Info("test finished")
	return perplexity, nil
}
