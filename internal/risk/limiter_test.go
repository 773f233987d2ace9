package risk

import (
	"testing"

	"github.com/predyx/market-engine/internal/fixed"
)

func c(f float64) fixed.Credits2 {
	return fixed.CreditsFromFloat(f)
}

func TestCheck_WithinLimits(t *testing.T) {
	l := NewExposureLimiter(c(1000), c(5000))

	if err := l.Check("m1", "politics", c(100), nil, nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_MarketLimitExceeded(t *testing.T) {
	l := NewExposureLimiter(c(1000), c(5000))

	// Existing 950 + new 100 = 1050 > 1000.
	existing := map[string]fixed.Credits2{"m1": c(950)}

	if err := l.Check("m1", "politics", c(100), existing, nil); err != ErrMarketLimitExceeded {
		t.Errorf("expected ErrMarketLimitExceeded, got %v", err)
	}
}

func TestCheck_NoSideReducesExposure(t *testing.T) {
	l := NewExposureLimiter(c(1000), c(5000))

	// A NO order (negative delta) against a long YES position reduces
	// net exposure and must pass.
	existing := map[string]fixed.Credits2{"m1": c(950)}
	delta := fixed.ZeroCredits().Sub(c(100))

	if err := l.Check("m1", "politics", delta, existing, nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_ShortExposureCountsAbsolute(t *testing.T) {
	l := NewExposureLimiter(c(1000), c(0))

	// Net −950 going −1050 breaches the cap on absolute exposure.
	existing := map[string]fixed.Credits2{"m1": fixed.ZeroCredits().Sub(c(950))}
	delta := fixed.ZeroCredits().Sub(c(100))

	if err := l.Check("m1", "politics", delta, existing, nil); err != ErrMarketLimitExceeded {
		t.Errorf("expected ErrMarketLimitExceeded, got %v", err)
	}
}

func TestCheck_CategoryLimitExceeded(t *testing.T) {
	l := NewExposureLimiter(c(1000), c(2000))

	existing := map[string]fixed.Credits2{
		"m1": c(800),
		"m2": c(800),
		"m3": c(300),
	}
	categoryOf := map[string]string{
		"m1": "politics",
		"m2": "politics",
		"m3": "politics",
	}

	// 200 + 800 + 800 + 300 = 2100 > 2000.
	if err := l.Check("m4", "politics", c(200), existing, categoryOf); err != ErrCategoryLimitExceeded {
		t.Errorf("expected ErrCategoryLimitExceeded, got %v", err)
	}
}

func TestCheck_OtherCategoriesIgnored(t *testing.T) {
	l := NewExposureLimiter(c(1000), c(2000))

	existing := map[string]fixed.Credits2{
		"m1": c(800),
		"m2": c(900),
	}
	categoryOf := map[string]string{
		"m1": "politics",
		"m2": "sports",
	}

	// Politics total = 500 + 800 = 1300 < 2000; sports excluded.
	if err := l.Check("m3", "politics", c(500), existing, categoryOf); err != nil {
		t.Errorf("other categories should be ignored, got %v", err)
	}
}

func TestCheck_ZeroCapsDisable(t *testing.T) {
	l := NewExposureLimiter(c(0), c(0))

	existing := map[string]fixed.Credits2{"m1": c(1000000)}
	if err := l.Check("m1", "politics", c(1000000), existing, nil); err != nil {
		t.Errorf("zero caps should disable checks, got %v", err)
	}
}
