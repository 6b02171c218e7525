package project

import "time"

// Project is a generated-artifact workspace owned by an account.
type Project struct {
	ID        int64
	AccountID int64
	Name      string
	CreatedAt time.Time
}
