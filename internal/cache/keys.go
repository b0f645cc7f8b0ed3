package cache

import (
	"fmt"
)

// JobStatusKey is owner-qualified so one owner can never read another's
// cached snapshot, even with a guessed job id.
func JobStatusKey(ownerID, jobID string) string {
	return fmt.Sprintf("job:status:%s:%s", ownerID, jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func SweepLockKey() string {
	return "lock:sweep"
}
