package usage

import "time"

// Counter tracks how many times an account has invoked a feature. One row
// per (account, feature) pair, created lazily on first use. UsedCount only
// ever increases.
type Counter struct {
	AccountID  int64
	Feature    string
	UsedCount  int64
	LastUsedAt time.Time
}
