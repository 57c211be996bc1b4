package models

import "time"

// ReferralStats is the denormalized running balance kept on coach users.
// It is incremented on every successful redemption and can be rebuilt
// from the usage history by the reconcile operation.
type ReferralStats struct {
	TotalCommissions float64 `json:"totalCommissions"`
	TotalReferrals   int     `json:"totalReferrals"`
}

type User struct {
	ID            int64         `json:"id"`
	Email         string        `json:"email"`
	PasswordHash  string        `json:"-"`
	Role          string        `json:"role"`
	FullName      *string       `json:"full_name"`
	ReferralStats ReferralStats `json:"referralStats"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
