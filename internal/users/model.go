package users

import "time"

// User is a loyalty member keyed by phone number and bound to exactly one ledger account.
type User struct {
	Phone     string
	Name      string
	AccountID string
	// Points is the sum of every credit applied to this member.
	Points int64
	// Transactions lists ledger transaction ids in the order they were applied.
	Transactions []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) clone() User {
	u.Transactions = append([]string(nil), u.Transactions...)
	return u
}

// merge copies the non-zero fields of src into u.
func (u *User) merge(src User) {
	if src.Name != "" {
		u.Name = src.Name
	}
	if src.AccountID != "" {
		u.AccountID = src.AccountID
	}
	if src.Points != 0 {
		u.Points = src.Points
	}
	if src.Transactions != nil {
		u.Transactions = append([]string(nil), src.Transactions...)
	}
	if !src.CreatedAt.IsZero() && u.CreatedAt.IsZero() {
		u.CreatedAt = src.CreatedAt
	}
}
