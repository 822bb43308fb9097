package domain

import (
	"fmt"
	"math"
	"strings"
)

// TransactionInput is the raw transaction submitted for scoring.
// It is never modified once a scoring call starts.
type TransactionInput struct {
	Amount           float64 `json:"amount"`
	HourOfDay        int     `json:"hourOfDay"`
	DistanceFromHome float64 `json:"distanceFromHome"`
	IsInternational  bool    `json:"isInternational"`
	IsPinUsed        bool    `json:"isPinUsed"`
	IsChipUsed       bool    `json:"isChipUsed"`
	MerchantCategory string  `json:"merchantCategory"`
}

// MerchantNone is the sentinel category meaning "no merchant category".
const MerchantNone = "None"

// MerchantCategories lists the categories offered to callers, in display order.
var MerchantCategories = []string{
	MerchantNone,
	"Electronics",
	"Food",
	"Fuel",
	"Groceries",
	"Online Services",
	"Travel",
	"Entertainment",
	"Health",
	"Utilities",
}

// Threshold bounds and default for the anomaly score cut-off.
const (
	MinThreshold     = -1.0
	MaxThreshold     = 0.0
	DefaultThreshold = -0.65
)

// HasMerchant reports whether the input names a merchant category.
// "none" matches case-insensitively and an empty category counts as none.
func (t *TransactionInput) HasMerchant() bool {
	return t.MerchantCategory != "" && !strings.EqualFold(t.MerchantCategory, MerchantNone)
}

// Validate rejects values the pipeline cannot score. Values are never clamped.
func (t *TransactionInput) Validate() error {
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount < 0 {
		return fmt.Errorf("%w: amount must be a non-negative number, got %v", ErrInvalidInput, t.Amount)
	}
	if t.HourOfDay < 0 || t.HourOfDay > 23 {
		return fmt.Errorf("%w: hourOfDay must be in [0,23], got %d", ErrInvalidInput, t.HourOfDay)
	}
	if math.IsNaN(t.DistanceFromHome) || math.IsInf(t.DistanceFromHome, 0) || t.DistanceFromHome < 0 {
		return fmt.Errorf("%w: distanceFromHome must be a non-negative number, got %v", ErrInvalidInput, t.DistanceFromHome)
	}
	return nil
}

// ValidateThreshold checks a caller-supplied threshold against [-1.0, 0.0].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < MinThreshold || threshold > MaxThreshold {
		return fmt.Errorf("%w: threshold must be in [%.1f,%.1f], got %v", ErrInvalidInput, MinThreshold, MaxThreshold, threshold)
	}
	return nil
}
