package model

import (
	"github.com/shopspring/decimal"
)

// TokenAmount is a fixed-point token quantity that serializes as a bare JSON
// number, which is what feed consumers read.
type TokenAmount struct {
	decimal.Decimal
}

func NewTokenAmount(d decimal.Decimal) TokenAmount {
	return TokenAmount{Decimal: d}
}

func (a TokenAmount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *TokenAmount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}
