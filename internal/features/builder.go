package features

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Column names written by Build.
const (
	ColAmount           = "Amount"
	ColHourOfDay        = "Hour_of_Day"
	ColDistanceFromHome = "Distance_From_Home"
	ColIsInternational  = "Is_International"
	ColIsPinUsed        = "Is_Pin_Used"
	ColIsChip           = "Is_Chip"

	merchantPrefix = "Merchant_Category_"
)

// MerchantColumn returns the one-hot column name for a merchant category.
func MerchantColumn(category string) string {
	return merchantPrefix + category
}

// Build maps a transaction onto the schema. Every column starts at 0.0.
//
// A merchant category whose one-hot column is not in the schema is dropped
// without error, so a category the model never saw scores as "no merchant".
func Build(schema *Schema, tx *domain.TransactionInput) *Vector {
	v := NewVector(schema)

	v.Set(ColAmount, tx.Amount)
	v.Set(ColHourOfDay, float64(tx.HourOfDay))
	v.Set(ColDistanceFromHome, tx.DistanceFromHome)
	v.Set(ColIsInternational, boolToFloat(tx.IsInternational))
	v.Set(ColIsPinUsed, boolToFloat(tx.IsPinUsed))
	v.Set(ColIsChip, boolToFloat(tx.IsChipUsed))

	if tx.HasMerchant() {
		v.Set(MerchantColumn(tx.MerchantCategory), 1.0)
	}

	return v
}

// MerchantKnown reports whether the transaction's merchant category maps to a
// schema column. Transactions without a merchant count as known.
func MerchantKnown(schema *Schema, tx *domain.TransactionInput) bool {
	if !tx.HasMerchant() {
		return true
	}
	return schema.Has(MerchantColumn(tx.MerchantCategory))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
