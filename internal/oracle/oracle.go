// Package oracle implements OracleView (spec ยง4.2): a uniform read model
// over heterogeneous oracle variants, with staleness and confidence gating.
// Grounded on _examples/original_source/.../state/oracle.rs's OracleType /
// OracleParams / CustomOracle shape, translated from Anchor account reads
// into a plain Go read function over an in-memory price store populated by
// internal/ingestion's NATS subscriber.
package oracle

import (
	"time"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"
	"PowerPerps/internal/fixedmath"

	"github.com/google/uuid"
)

// Price is the normalized oracle observation OracleView returns, at
// PRICE_DECIMALS (spec ยง4.2).
type Price struct {
	PriceScaled      int64
	ConfidenceScaled int64
	PublishTime      time.Time
	// UsedSpotFallback is set when a caller requested the EMA price but the
	// oracle variant configured has none, so OracleView fell back to spot
	// with this deterministic flag (spec ยง4.2's "caller chooses policy").
	UsedSpotFallback bool
}

// Feed is a single live price observation as published upstream, keyed by
// custody. Feeds arrive via NATS (internal/ingestion) or, for a Custom
// oracle, via a direct permissioned write (see SetCustomPrice below).
type Feed struct {
	Price     int64
	Expo      int32
	Conf      int64
	EMA       int64
	HasEMA    bool
	PublishAt time.Time
}

// Store holds the latest feed per custody. It is the in-memory equivalent
// of the teacher's state.MarkPriceState map, generalized from one price per
// market to one price per custody (a custody is this core's price-bearing
// unit, not a market).
type Store struct {
	feeds map[uuid.UUID]Feed
}

func NewStore() *Store {
	return &Store{feeds: make(map[uuid.UUID]Feed)}
}

// Publish records a new observation for a custody. Only valid for
// OracleTypeCustom or OracleTypePyth feeds arriving from ingestion; see
// SetCustomPrice for the permissioned/admin custom-price write paths.
func (s *Store) Publish(custodyID uuid.UUID, f Feed) {
	s.feeds[custodyID] = f
}

// SetCustomPrice implements spec.md's supplemented set_custom_oracle_price /
// set_custom_oracle_price_permissionless: a Custom-variant oracle price can
// be written either by multisig admin action or by a configured
// oracle_authority signer. The caller (internal/admin or internal/opgateway)
// is responsible for checking authorization before calling this.
func (s *Store) SetCustomPrice(custody *domain.Custody, price, conf int64, expo int32, now time.Time) error {
	if custody.Oracle.OracleType != domain.OracleTypeCustom {
		return corerr.New(corerr.KindUnsupportedOracle, "oracle.SetCustomPrice", map[string]any{"custody": custody.ID})
	}
	s.Publish(custody.ID, Feed{Price: price, Expo: expo, Conf: conf, PublishAt: now})
	return nil
}

// Read implements OracleView's normalized read (spec ยง4.2): fetches the
// latest feed for the custody's configured oracle, checks staleness, and
// rescales to PRICE_DECIMALS.
func (s *Store) Read(custody *domain.Custody, now time.Time, useEMA bool) (Price, error) {
	if custody.Oracle.OracleType == domain.OracleTypeNone {
		return Price{}, corerr.New(corerr.KindUnsupportedOracle, "oracle.Read", map[string]any{"custody": custody.ID})
	}

	f, ok := s.feeds[custody.ID]
	if !ok {
		return Price{}, corerr.New(corerr.KindStaleOraclePrice, "oracle.Read", map[string]any{"custody": custody.ID, "reason": "no feed published"})
	}

	age := now.Sub(f.PublishAt)
	if age > time.Duration(custody.Oracle.MaxPriceAgeSec)*time.Second {
		return Price{}, corerr.New(corerr.KindStaleOraclePrice, "oracle.Read", map[string]any{
			"custody": custody.ID, "age_sec": int64(age.Seconds()), "max_age_sec": custody.Oracle.MaxPriceAgeSec,
		})
	}

	rawPrice := f.Price
	usedFallback := false
	if useEMA {
		if f.HasEMA {
			rawPrice = f.EMA
		} else {
			usedFallback = true
		}
	}

	scaled, err := rescaleToPriceDecimals(rawPrice, f.Expo)
	if err != nil {
		return Price{}, corerr.Wrap(corerr.KindMathOverflow, "oracle.Read", map[string]any{"custody": custody.ID}, err)
	}
	confScaled, err := rescaleToPriceDecimals(f.Conf, f.Expo)
	if err != nil {
		return Price{}, corerr.Wrap(corerr.KindMathOverflow, "oracle.Read", map[string]any{"custody": custody.ID}, err)
	}

	return Price{
		PriceScaled:      scaled,
		ConfidenceScaled: confScaled,
		PublishTime:      f.PublishAt,
		UsedSpotFallback: usedFallback,
	}, nil
}

// rescaleToPriceDecimals converts price*10^expo into PRICE_DECIMALS scale.
func rescaleToPriceDecimals(mantissa int64, expo int32) (int64, error) {
	// price_real = mantissa * 10^expo; we want mantissa_out such that
	// mantissa_out * 10^-PriceDecimals == mantissa * 10^expo
	// => mantissa_out = mantissa * 10^(expo + PriceDecimals)
	shift := int(expo) + fixedmath.PriceDecimals
	if shift >= 0 {
		return fixedmath.CheckedAsScaled(mantissa, 0, shift)
	}
	return fixedmath.CheckedAsScaled(mantissa, -shift, 0)
}

// CheckConfidence implements spec ยง4.3's confidence band rule: fails
// PriceConfidenceTooWide if confidence exceeds max_confidence_bps of price.
func CheckConfidence(p Price, maxConfidenceBPS int64) error {
	threshold, err := fixedmath.ApplyBPS(p.PriceScaled, maxConfidenceBPS, fixedmath.RoundDown)
	if err != nil {
		return corerr.Wrap(corerr.KindMathOverflow, "oracle.CheckConfidence", nil, err)
	}
	if p.ConfidenceScaled > threshold {
		return corerr.New(corerr.KindPriceConfidenceTooWide, "oracle.CheckConfidence", map[string]any{
			"confidence": p.ConfidenceScaled, "threshold": threshold,
		})
	}
	return nil
}
