package models

import "time"

// ReferralCode field names round-trip the persisted layout exactly;
// clients of the pre-existing API depend on them.
type ReferralCode struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	CoachID    int64           `json:"coachId"`
	CoachName  string          `json:"coachName"`
	CoachEmail string          `json:"coachEmail"`
	Discount   int             `json:"discount"`
	Commission int             `json:"commission"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
	UsedBy     []ReferralUsage `json:"usedBy"`
}

// ReferralUsage is append-only: amounts are frozen at redemption time
// and never recomputed.
type ReferralUsage struct {
	ID               int64     `json:"-"`
	ReferralCodeID   string    `json:"-"`
	UserID           int64     `json:"userId"`
	UserName         string    `json:"userName"`
	UserEmail        string    `json:"userEmail"`
	UsedAt           time.Time `json:"usedAt"`
	AmountSaved      float64   `json:"amountSaved"`
	CommissionEarned float64   `json:"commissionEarned"`
}

type CoachReferralStats struct {
	TotalClients     int             `json:"totalClients"`
	TotalCommissions float64         `json:"totalCommissions"`
	TotalSavings     float64         `json:"totalSavings"`
	ActiveCode       *ReferralCode   `json:"activeCode,omitempty"`
	Referrals        []ReferralUsage `json:"referrals"`
}

type GlobalReferralStats struct {
	TotalCodes       int     `json:"totalCodes"`
	ActiveCodes      int     `json:"activeCodes"`
	TotalRedemptions int     `json:"totalRedemptions"`
	TotalCommissions float64 `json:"totalCommissions"`
	TotalSavings     float64 `json:"totalSavings"`
}

// ReferralApplication is the successful outcome of applying a code at
// checkout. Commission is computed on the original price, not the
// discounted one.
type ReferralApplication struct {
	Discount        int           `json:"discount"`
	DiscountedPrice float64       `json:"discountedPrice"`
	AmountSaved     float64       `json:"amountSaved"`
	Commission      float64       `json:"commission"`
	Referral        *ReferralCode `json:"referral"`
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
