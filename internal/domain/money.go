package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places every stored amount is rounded to.
const MoneyPlaces int32 = 2

const DefaultCurrency = "NGN"

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyPlaces)
}

// ToMinorUnits converts a major-unit amount (naira) to minor units (kobo).
func ToMinorUnits(v decimal.Decimal) int64 {
	return RoundMoney(v).Shift(MoneyPlaces).IntPart()
}

func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -MoneyPlaces)
}
