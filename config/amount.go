package config

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

// ParseAmount parses a decimal BTC amount exactly, without going through
// floating point. More than eight decimal places is an error.
func ParseAmount(s string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("invalid amount %q: negative", s)
	}
	sats := d.Shift(8)
	if !sats.Equal(sats.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than 8 decimal places", s)
	}
	if sats.GreaterThan(decimal.NewFromInt(btcutil.MaxSatoshi)) {
		return 0, fmt.Errorf("invalid amount %q: above the money supply", s)
	}
	return btcutil.Amount(sats.IntPart()), nil
}

// FormatAmount renders a as a BTC decimal string without trailing zeros.
func FormatAmount(a btcutil.Amount) string {
	return decimal.New(int64(a), -8).String()
}

// AmountFlag is a BTC amount flag parsed with ParseAmount.
type AmountFlag struct {
	btcutil.Amount
}

// UnmarshalFlag implements flags.Unmarshaler.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	amt, err := ParseAmount(value)
	if err != nil {
		return err
	}
	a.Amount = amt
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (a AmountFlag) MarshalFlag() (string, error) {
	return FormatAmount(a.Amount), nil
}
