package oracle

import (
	"testing"
	"time"

	"PowerPerps/internal/corerr"
	"PowerPerps/internal/domain"

	"github.com/google/uuid"
)

func testCustody() *domain.Custody {
	return &domain.Custody{
		ID: uuid.New(),
		Oracle: domain.OracleConfig{
			OracleType:     domain.OracleTypeCustom,
			MaxPriceAgeSec: 60,
		},
		Pricing: domain.PricingParams{MaxConfidenceBPS: 100},
	}
}

func TestRead_StaleFailsWithNoFeed(t *testing.T) {
	s := NewStore()
	c := testCustody()

	_, err := s.Read(c, time.Now(), false)
	if k, _ := corerr.KindOf(err); k != corerr.KindStaleOraclePrice {
		t.Fatalf("expected StaleOraclePrice, got %v", err)
	}
}

func TestRead_StaleAfterMaxAge(t *testing.T) {
	s := NewStore()
	c := testCustody()
	now := time.Now()
	s.Publish(c.ID, Feed{Price: 100_000_000_000, Expo: -9, PublishAt: now.Add(-2 * time.Minute)})

	_, err := s.Read(c, now, false)
	if k, _ := corerr.KindOf(err); k != corerr.KindStaleOraclePrice {
		t.Fatalf("expected StaleOraclePrice, got %v", err)
	}
}

func TestRead_RescalesToPriceDecimals(t *testing.T) {
	s := NewStore()
	c := testCustody()
	now := time.Now()
	// Pyth-style mantissa=100_000_000_000 expo=-9 represents 100.0
	s.Publish(c.ID, Feed{Price: 100_000_000_000, Expo: -9, Conf: 100_000, PublishAt: now})

	p, err := s.Read(c, now, false)
	if err != nil {
		t.Fatal(err)
	}
	if p.PriceScaled != 100_000000 {
		t.Errorf("PriceScaled = %d, want 100_000000", p.PriceScaled)
	}
}

func TestRead_EMAFallbackFlag(t *testing.T) {
	s := NewStore()
	c := testCustody()
	now := time.Now()
	s.Publish(c.ID, Feed{Price: 100_000_000_000, Expo: -9, PublishAt: now, HasEMA: false})

	p, err := s.Read(c, now, true)
	if err != nil {
		t.Fatal(err)
	}
	if !p.UsedSpotFallback {
		t.Error("expected UsedSpotFallback to be true when EMA requested but unavailable")
	}
}

func TestRead_UnsupportedOracleVariant(t *testing.T) {
	s := NewStore()
	c := testCustody()
	c.Oracle.OracleType = domain.OracleTypeNone

	_, err := s.Read(c, time.Now(), false)
	if k, _ := corerr.KindOf(err); k != corerr.KindUnsupportedOracle {
		t.Fatalf("expected UnsupportedOracle, got %v", err)
	}
}

func TestCheckConfidence_TooWide(t *testing.T) {
	p := Price{PriceScaled: 100_000000, ConfidenceScaled: 2_000000}
	err := CheckConfidence(p, 100) // 1% max
	if k, _ := corerr.KindOf(err); k != corerr.KindPriceConfidenceTooWide {
		t.Fatalf("expected PriceConfidenceTooWide, got %v", err)
	}
}

func TestCheckConfidence_WithinBand(t *testing.T) {
	p := Price{PriceScaled: 100_000000, ConfidenceScaled: 500000}
	if err := CheckConfidence(p, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetCustomPrice_RejectsNonCustody(t *testing.T) {
	s := NewStore()
	c := testCustody()
	c.Oracle.OracleType = domain.OracleTypePyth

	err := s.SetCustomPrice(c, 100, 1, -6, time.Now())
	if k, _ := corerr.KindOf(err); k != corerr.KindUnsupportedOracle {
		t.Fatalf("expected UnsupportedOracle, got %v", err)
	}
}
