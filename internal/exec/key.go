package exec

import (
	"fmt"
	"time"
)

// ClientOrderKey builds the deterministic idempotency key for an order:
// identical inputs always produce the identical key, across processes and
// runtimes, which is what makes a retried run's resubmission a no-op.
// Format: {date}|{code}|sid={sid}|mode={mode}|{side}|{window}|{stage}
func ClientOrderKey(date time.Time, code string, sid, mode int, side, window, stage string) string {
	return fmt.Sprintf("%s|%s|sid=%d|mode=%d|%s|%s|%s",
		date.Format("2006-01-02"), code, sid, mode, side, window, stage)
}
