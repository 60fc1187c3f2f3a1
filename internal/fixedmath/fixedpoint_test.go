package fixedmath

import "testing"

func TestCalcPowerPerpsPnL_ScenarioTable(t *testing.T) {
	const sizeUSD = 10_000_000_000 // $10,000 at PRICE_DECIMALS=6

	cases := []struct {
		name           string
		long           bool
		k              int
		entry, exit    int64
		wantProfit     int64
		wantLoss       int64
		tolerance      int64
	}{
		{"A_long_k1_up", true, 1, 100_000000, 150_000000, 5_000_000_000, 0, 0},
		{"B_long_k2_up", true, 2, 100_000000, 150_000000, 12_500_000_000, 0, 0},
		{"C_long_k3_up", true, 3, 100_000000, 150_000000, 23_750_000_000, 0, 0},
		{"D_long_k2_down", true, 2, 100_000000, 75_000000, 0, 4_375_000_000, 0},
		{"F_long_k5_up", true, 5, 100_000000, 120_000000, 14_883_200_000, 0, 5},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			profit, loss, err := CalcPowerPerpsPnL(c.exit, c.entry, sizeUSD, c.k)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := abs(profit - c.wantProfit); diff > c.tolerance {
				t.Errorf("profit = %d, want %d (+/-%d)", profit, c.wantProfit, c.tolerance)
			}
			if diff := abs(loss - c.wantLoss); diff > c.tolerance {
				t.Errorf("loss = %d, want %d (+/-%d)", loss, c.wantLoss, c.tolerance)
			}
		})
	}
}

func TestCalcPowerPerpsPnL_ShortViaSwappedArgs(t *testing.T) {
	const sizeUSD = 10_000_000_000
	// Scenario E: short, k=2, entry=100, exit=75 -> profit ~7_777_777_777
	profit, loss, err := CalcPowerPerpsPnL(100_000000, 75_000000, sizeUSD, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loss != 0 {
		t.Errorf("expected zero loss for a profitable short, got %d", loss)
	}
	want := int64(7_777_777_777)
	if diff := abs(profit - want); diff > 1 {
		t.Errorf("profit = %d, want %d +/-1", profit, want)
	}
}

func TestCalcPowerPerpsPnL_LinearEquivalenceAtK1(t *testing.T) {
	entry := int64(87_500000)
	exit := int64(103_250000)
	sizeUSD := int64(5_000_000_000)

	profit, loss, err := CalcPowerPerpsPnL(exit, entry, sizeUSD, 1)
	if err != nil {
		t.Fatal(err)
	}

	linear, err := CheckedMulDiv(sizeUSD, exit-entry, entry, RoundDown)
	if err != nil {
		t.Fatal(err)
	}

	got := profit - loss
	if diff := abs(got - linear); diff > 1 {
		t.Errorf("k=1 payoff %d not within 1 ulp of linear payoff %d", got, linear)
	}
}

func TestCalcPowerPerpsPnL_MutualExclusivity(t *testing.T) {
	entries := []int64{50_000000, 100_000000, 200_000000}
	exits := []int64{10_000000, 99_000000, 100_000000, 101_000000, 500_000000}

	for _, entry := range entries {
		for _, exit := range exits {
			for k := 1; k <= MaxPower; k++ {
				profit, loss, err := CalcPowerPerpsPnL(exit, entry, 1_000_000_000, k)
				if err != nil {
					t.Fatal(err)
				}
				if profit != 0 && loss != 0 {
					t.Errorf("entry=%d exit=%d k=%d: profit=%d and loss=%d both nonzero", entry, exit, k, profit, loss)
				}
			}
		}
	}
}

func TestCalcPowerPerpsPnL_DegenerateInputs(t *testing.T) {
	profit, loss, err := CalcPowerPerpsPnL(150_000000, 0, 1_000_000, 1)
	if err != nil || profit != 0 || loss != 0 {
		t.Errorf("entry=0 should yield (0,0), got (%d,%d,%v)", profit, loss, err)
	}

	profit, loss, err = CalcPowerPerpsPnL(150_000000, 100_000000, 1_000_000, 0)
	if err != nil || profit != 0 || loss != 0 {
		t.Errorf("k=0 should yield (0,0), got (%d,%d,%v)", profit, loss, err)
	}

	profit, loss, err = CalcPowerPerpsPnL(150_000000, 100_000000, 1_000_000, 6)
	if err != nil || profit != 0 || loss != 0 {
		t.Errorf("k=6 should yield (0,0), got (%d,%d,%v)", profit, loss, err)
	}
}

func TestCheckedMulDiv_RoundingModes(t *testing.T) {
	got, err := CheckedMulDiv(7, 1, 2, RoundDown)
	if err != nil || got != 3 {
		t.Errorf("RoundDown 7/2 = %d, want 3 (err=%v)", got, err)
	}
	got, err = CheckedMulDiv(7, 1, 2, RoundUp)
	if err != nil || got != 4 {
		t.Errorf("RoundUp 7/2 = %d, want 4 (err=%v)", got, err)
	}
	got, err = CheckedMulDiv(6, 1, 4, RoundHalfEven)
	if err != nil || got != 2 {
		t.Errorf("RoundHalfEven 6/4 = %d, want 2 (round to even), got %d (err=%v)", got, got, err)
	}
}

func TestCheckedMulDiv_DivisionByZero(t *testing.T) {
	if _, err := CheckedMulDiv(1, 2, 0, RoundDown); err != ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestApplyBPS_FeesRoundUp(t *testing.T) {
	// 1 bps of 3 should round up to 1, not truncate to 0.
	got, err := ApplyBPS(3, 1, RoundUp)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("ApplyBPS(3, 1bps, RoundUp) = %d, want 1", got)
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
