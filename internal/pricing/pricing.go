// Package pricing implements Pricing (spec ยง4.3): converts a raw oracle
// observation into a tradable entry/exit price by applying the configured
// spread, and enforces the confidence-band gate before doing so.
package pricing

import (
	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/fixedmath"
	"PowerPerps/internal/oracle"
)

// Intent distinguishes entry pricing from exit pricing; the spread applies
// in opposite directions for the two (spec ยง4.3).
type Intent int8

const (
	IntentEntry Intent = iota
	IntentExit
)

// Quote converts an oracle.Price into a tradable price for the given side
// and intent, after checking the confidence band.
func Quote(p oracle.Price, custody *domain.Custody, side domain.Side, intent Intent) (int64, error) {
	if err := oracle.CheckConfidence(p, custody.Pricing.MaxConfidenceBPS); err != nil {
		return 0, err
	}

	spreadBPS := custody.Pricing.TradeSpreadLongBPS
	if side == domain.SideShort {
		spreadBPS = custody.Pricing.TradeSpreadShortBPS
	}

	// Round the spread amount up so it always moves the quoted price against
	// the trader, never in their favor (spec ยง4.3).
	spreadAmount, err := fixedmath.ApplyBPS(p.PriceScaled, spreadBPS, fixedmath.RoundUp)
	if err != nil {
		return 0, corerr.Wrap(corerr.KindMathOverflow, "pricing.Quote", nil, err)
	}

	add := (side == domain.SideLong && intent == IntentEntry) || (side == domain.SideShort && intent == IntentExit)

	if add {
		return p.PriceScaled + spreadAmount, nil
	}
	return p.PriceScaled - spreadAmount, nil
}

// QuoteEntry and QuoteExit are the two call sites Position uses (spec
// ยง4.5.1's P_entry, ยง4.5.2's P_exit); kept as named wrappers for callers
// that don't want to spell out the Intent enum inline.
func QuoteEntry(p oracle.Price, custody *domain.Custody, side domain.Side) (int64, error) {
	return Quote(p, custody, side, IntentEntry)
}

func QuoteExit(p oracle.Price, custody *domain.Custody, side domain.Side) (int64, error) {
	return Quote(p, custody, side, IntentExit)
}
