package ecard

import (
	"fmt"
	"strconv"
	"strings"
)

// Transaction is a single spending record scraped from the portal.
// Identity is structural over all fields: the portal exposes no row
// id, so two real transactions with an identical (time, category,
// amount, balance, location) tuple are indistinguishable. That is a
// known fidelity gap, not something this layer can repair.
//
// Amounts are fixed-point minor currency units (fen, 1/100 CNY) so
// that equality and set membership are exact.
type Transaction struct {
	// display string exactly as rendered by the portal
	Time string
	// Time parsed at the portal's fixed UTC+8 offset
	Unix int64
	// spending category label
	Category string
	// signed amount in minor units
	Amount int64
	// wallet balance after this transaction, minor units
	Balance int64
	// terminal location label
	Location string
}

func (t Transaction) String() string {
	return fmt.Sprintf(
		"%s %s %s (balance %s) @%s",
		t.Time, t.Category, FormatAmount(t.Amount), FormatAmount(t.Balance), t.Location,
	)
}

// ParseAmount converts a portal decimal string like "12.34" or "-0.5"
// into minor units without going through floating point.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")
	if negative || strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", s)
	}
	cents := units * 100

	if frac != "" {
		if len(frac) > 2 {
			return 0, fmt.Errorf("amount %q has sub-cent precision", s)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		sub, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad amount %q", s)
		}
		cents += sub
	}

	if negative {
		cents = -cents
	}
	return cents, nil
}

// FormatAmount is the inverse of ParseAmount.
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
