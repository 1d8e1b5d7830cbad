package attention

import (
	"math/rand"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/sirupsen/logrus"
)

/*
Session is the numeric execution context of a run: the random source
every parameter is drawn from and the worker budget of the solver. Make
one at startup, share it with every Model of the run, Close it on exit.
*/
type Session struct {
	Rand    *rand.Rand
	Workers int

	log    logrus.FieldLogger
	closed bool
}

/*
NewSession seeds a session and sizes its worker budget from the CPU.
*/
func NewSession(seed int64, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	workers := cpuid.CPU.LogicalCores
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	log.WithFields(logrus.Fields{
		"cpu":     cpuid.CPU.BrandName,
		"workers": workers,
		"avx2":    cpuid.CPU.Supports(cpuid.AVX2),
		"fma3":    cpuid.CPU.Supports(cpuid.FMA3),
		"seed":    seed,
	}).Debug("session opened")

	return &Session{
		Rand:    rand.New(rand.NewSource(seed)),
		Workers: workers,
		log:     log,
	}
}

/*
Close releases the session. Models bound to it stop accepting work.
*/
func (s *Session) Close() error {
	if !s.closed {
		s.closed = true
		s.log.Debug("session closed")
	}
	return nil
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}
