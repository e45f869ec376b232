package money

import "testing"

func TestProcessingFee(t *testing.T) {
	tests := []struct {
		base      float64
		wantFee   float64
		wantTotal float64
	}{
		{100.00, 3.20, 103.20},
		{0.00, 0.30, 0.30},
		{500.00, 14.80, 514.80},
		{1250.00, 36.55, 1286.55},
		{19.99, 0.88, 20.87},
	}

	for _, tt := range tests {
		if got := ProcessingFee(tt.base); got != tt.wantFee {
			t.Errorf("ProcessingFee(%.2f) = %.2f, want %.2f", tt.base, got, tt.wantFee)
		}
		if got := TotalWithFee(tt.base); got != tt.wantTotal {
			t.Errorf("TotalWithFee(%.2f) = %.2f, want %.2f", tt.base, got, tt.wantTotal)
		}
	}
}

func TestFeeDeterminism(t *testing.T) {
	first := ProcessingFee(100.00)
	for i := 0; i < 1000; i++ {
		if got := ProcessingFee(100.00); got != first {
			t.Fatalf("ProcessingFee(100.00) changed between calls: %.10f vs %.10f", got, first)
		}
	}
	if first != 3.20 {
		t.Errorf("ProcessingFee(100.00) = %.2f, want 3.20", first)
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.004, 1.00},
		{1.006, 1.01},
		{0.0, 0.0},
		{-1.006, -1.01},
		{103.19999999, 103.20},
		{3.1999999999999998, 3.20},
	}

	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClampBalance(t *testing.T) {
	if got := ClampBalance(100.00, 40.00); got != 60.00 {
		t.Errorf("ClampBalance(100, 40) = %.2f, want 60.00", got)
	}
	if got := ClampBalance(100.00, 120.00); got != 0 {
		t.Errorf("ClampBalance(100, 120) = %.2f, want 0", got)
	}
	if got := ClampBalance(1275.00, 425.00); got != 850.00 {
		t.Errorf("ClampBalance(1275, 425) = %.2f, want 850.00", got)
	}
}
