package model

import (
	"time"
)

// TokenQuota lives at users/{userId}/personaTokens and budgets persona chat
// usage. Remaining never goes below zero; Used may exceed Total until the
// next refill.
type TokenQuota struct {
	Total      int64     `json:"total"`
	Used       int64     `json:"used"`
	Remaining  int64     `json:"remaining"`
	LastRefill time.Time `json:"lastRefill"`
}

// NewTokenQuota returns a fresh period's budget starting at now.
func NewTokenQuota(total int64, now time.Time) *TokenQuota {
	return &TokenQuota{
		Total:      total,
		Used:       0,
		Remaining:  total,
		LastRefill: now,
	}
}
