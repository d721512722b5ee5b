package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit; everything else rounds to two
// decimal places.
var zeroDecimalCurrencies = map[string]struct{}{
	"idr": {}, "jpy": {}, "krw": {}, "vnd": {}, "clp": {}, "xaf": {}, "xof": {},
}

// CurrencyExponent returns the number of decimal places for a currency.
func CurrencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(currency)]; ok {
		return 0
	}
	return 2
}

// SanitizeAmount rounds an amount to the currency's precision. Caller
// supplied refund amounts pass through this before any invariant check.
func SanitizeAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(CurrencyExponent(currency))
}

// MinorUnits converts an amount to the provider's integer minor units, e.g.
// 45000 IDR stays 45000 but 12.50 USD becomes 1250.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits converts provider minor units back to a decimal amount.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-CurrencyExponent(currency))
}
