package money_test

import (
	"testing"

	"github.com/boddenberg/mutuelle-ledger/internal/money"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFloorToUnit(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   string
	}{
		{"exact multiple", "750", "750"},
		{"rounds down", "333.33", "325"},
		{"just below unit", "24.99", "0"},
		{"zero", "0", "0"},
		{"negative", "-100", "0"},
		{"large", "1940012.5", "1940000"},
		{"fraction above multiple", "250.0000000001", "250"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := money.FloorToUnit(d(tt.amount), money.Unit)
			if !got.Equal(d(tt.want)) {
				t.Errorf("FloorToUnit(%s) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestFloorToUnit_Idempotent(t *testing.T) {
	for _, s := range []string{"0", "1", "26", "99.99", "1000", "123456.78"} {
		once := money.FloorToUnit(d(s), money.Unit)
		twice := money.FloorToUnit(once, money.Unit)
		if !once.Equal(twice) {
			t.Errorf("FloorToUnit not idempotent for %s: %s then %s", s, once, twice)
		}
		if once.GreaterThan(d(s)) && d(s).Sign() > 0 {
			t.Errorf("FloorToUnit(%s) = %s exceeds input", s, once)
		}
	}
}

func TestFloorToUnit_ZeroUnit(t *testing.T) {
	if got := money.FloorToUnit(d("100"), decimal.Zero); !got.IsZero() {
		t.Errorf("expected zero for zero unit, got %s", got)
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"60000", "60000"},
		{"0.125", "0.13"},
		{"0.124", "0.12"},
		{"333.335", "333.34"},
		{"12.5", "12.5"},
	}
	for _, tt := range tests {
		got := money.Round2(d(tt.in))
		if !got.Equal(d(tt.want)) {
			t.Errorf("Round2(%s) = %s, want %s", tt.in, got, tt.want)
		}
		if again := money.Round2(got); !again.Equal(got) {
			t.Errorf("Round2 not idempotent for %s", tt.in)
		}
	}
}

func TestDivFloor(t *testing.T) {
	got := money.DivFloor(d("1000"), d("3"), money.ShareScale)
	if !got.Equal(d("333.3333333333")) {
		t.Errorf("DivFloor(1000, 3) = %s", got)
	}

	got = money.DivFloor(d("2"), d("3"), 2)
	if !got.Equal(d("0.66")) {
		t.Errorf("DivFloor(2, 3, 2) = %s, want truncation to 0.66", got)
	}
}

func TestSum(t *testing.T) {
	if got := money.Sum(d("1.10"), d("2.20"), d("3.30")); !got.Equal(d("6.6")) {
		t.Errorf("Sum = %s", got)
	}
	if got := money.Sum(); !got.IsZero() {
		t.Errorf("empty Sum = %s", got)
	}
}
