package ledger

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxBusyAttempts = 5
	busyBaseDelay   = 10 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy runs fn until it succeeds, fails with an error other than
// SQLITE_BUSY, or has been tried maxBusyAttempts times. The delay doubles
// after each busy attempt.
func (s *Store) retryOnBusy(fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxBusyAttempts {
			break
		}
		s.log.Debugf("database busy, retrying in %v (attempt %d/%d)", delay, attempt, maxBusyAttempts)
		s.clock.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("database still busy after %d attempts: %w", maxBusyAttempts, err)
}
