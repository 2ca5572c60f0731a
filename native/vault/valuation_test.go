package vault

import (
	"errors"
	"math/big"
	"testing"

	"pegvault/native/oracle"
)

const (
	testCollateralFeed = "ATOM/USD"
	testPegFeed        = "PGD/USD"
)

func newTestValuer(t *testing.T) (*Valuer, *oracle.StaticFeed) {
	t.Helper()
	feed := oracle.NewStaticFeed()
	feed.Set(testCollateralFeed, big.NewInt(160784000000), 8)
	feed.Set(testPegFeed, big.NewInt(121560000), 8)
	return NewValuer(oracle.NewAdapter(feed), testPegFeed, 18), feed
}

func TestCollateralToPeg(t *testing.T) {
	valuer, _ := newTestValuer(t)
	// 3 units of collateral at 1607.84 against a peg trading at 1.2156.
	out, err := valuer.CollateralToPeg(testCollateralFeed, 18, mustBig(t, "3000000000000000000"))
	if err != nil {
		t.Fatalf("valuation failed: %v", err)
	}
	if want := mustBig(t, "3968015794669299111549"); out.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestCollateralToPegNormalizesPrecision(t *testing.T) {
	valuer, _ := newTestValuer(t)
	// The same 3 units expressed with 6-decimal collateral precision.
	out, err := valuer.CollateralToPeg(testCollateralFeed, 6, big.NewInt(3000000))
	if err != nil {
		t.Fatalf("valuation failed: %v", err)
	}
	if want := mustBig(t, "3968015794669299111549"); out.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestPegToCollateral(t *testing.T) {
	feed := oracle.NewStaticFeed()
	feed.Set(testCollateralFeed, big.NewInt(110000000), 8) // 1.10
	feed.Set(testPegFeed, big.NewInt(100000000), 8)        // 1.00
	valuer := NewValuer(oracle.NewAdapter(feed), testPegFeed, 18)

	out, err := valuer.PegToCollateral(testCollateralFeed, 18, mustBig(t, "4620000000000000000000"))
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if want := mustBig(t, "4200000000000000000000"); out.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestValuationRoundTrip(t *testing.T) {
	valuer, _ := newTestValuer(t)
	amount := mustBig(t, "3000000000000000000")
	value, err := valuer.CollateralToPeg(testCollateralFeed, 18, amount)
	if err != nil {
		t.Fatalf("forward conversion failed: %v", err)
	}
	back, err := valuer.PegToCollateral(testCollateralFeed, 18, value)
	if err != nil {
		t.Fatalf("reverse conversion failed: %v", err)
	}
	diff := new(big.Int).Sub(amount, back)
	if diff.Sign() < 0 || diff.Cmp(big.NewInt(2)) > 0 {
		t.Fatalf("round trip drifted by %s", diff)
	}
}

func TestValuationOracleFaults(t *testing.T) {
	valuer, feed := newTestValuer(t)
	amount := big.NewInt(1)

	if _, err := valuer.CollateralToPeg("UNKNOWN/USD", 18, amount); !errors.Is(err, oracle.ErrOracleFault) {
		t.Fatalf("expected oracle fault for unknown feed, got %v", err)
	}

	feed.Set(testCollateralFeed, big.NewInt(0), 8)
	if _, err := valuer.CollateralToPeg(testCollateralFeed, 18, amount); !errors.Is(err, oracle.ErrOracleFault) {
		t.Fatalf("expected oracle fault for zero price, got %v", err)
	}

	feed.Set(testCollateralFeed, big.NewInt(-100), 8)
	if _, err := valuer.CollateralToPeg(testCollateralFeed, 18, amount); !errors.Is(err, oracle.ErrOracleFault) {
		t.Fatalf("expected oracle fault for negative price, got %v", err)
	}
}

func TestValuationPriceTruncatedToZeroIsFault(t *testing.T) {
	feed := oracle.NewStaticFeed()
	// At 18-decimal reported precision, a raw reading of 1 truncates to zero
	// when normalized to the collateral's 0-decimal precision.
	feed.Set(testCollateralFeed, big.NewInt(1), 18)
	feed.Set(testPegFeed, big.NewInt(100000000), 8)
	valuer := NewValuer(oracle.NewAdapter(feed), testPegFeed, 18)

	if _, err := valuer.PegToCollateral(testCollateralFeed, 0, big.NewInt(1)); !errors.Is(err, oracle.ErrOracleFault) {
		t.Fatalf("expected oracle fault for truncated price, got %v", err)
	}
}

func TestValuationRejectsNegativeAmount(t *testing.T) {
	valuer, _ := newTestValuer(t)
	if _, err := valuer.CollateralToPeg(testCollateralFeed, 18, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := valuer.PegToCollateral(testCollateralFeed, 18, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}
