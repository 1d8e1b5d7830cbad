package attention

import (
	"time"

	"github.com/beevik/ntp"
	"github.com/sirupsen/logrus"
)

// Clock tells the wall-clock time checkpoints are named after.
type Clock func() time.Time

// SystemClock is the local clock.
func SystemClock() time.Time {
	return time.Now()
}

/*
NTPClock asks server for the time and falls back to the local clock when
the server cannot be reached.
*/
func NTPClock(server string, log logrus.FieldLogger) Clock {
	return func() time.Time {
		t, err := ntp.Time(server)
		if err != nil {
			log.WithError(err).WithField("server", server).Warn("ntp time unavailable, using local clock")
			return time.Now()
		}
		return t
	}
}
