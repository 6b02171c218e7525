package account

import "time"

// Account represents a tenant of the platform. Credits is the consumable
// balance debited by metered feature use; it never goes negative.
type Account struct {
	ID               int64
	Email            string
	Credits          int64
	IsPremium        bool
	PremiumExpiresAt *time.Time
	TourCompleted    bool
	CustomDomain     string
	Banned           bool
	IsAdmin          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
