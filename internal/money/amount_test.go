package money

import "testing"

func TestAmount_ArithmeticAvoidsFloatDrift(t *testing.T) {
	a, _ := New("0.1")
	b, _ := New("0.2")
	got := a.Add(b)
	want, _ := New("0.3")
	if !got.Equal(want) {
		t.Fatalf("0.1 + 0.2 = %s, want %s", got, want)
	}
}

func TestAmount_EqualWithinEpsilon(t *testing.T) {
	a, _ := New("10.00")
	b, _ := New("10.004")
	if !a.Equal(b) {
		t.Fatalf("expected %s ~= %s within epsilon", a, b)
	}
	c, _ := New("10.02")
	if a.Equal(c) {
		t.Fatalf("expected %s != %s beyond epsilon", a, c)
	}
}

func TestAmount_IsZeroAndIsNegative(t *testing.T) {
	z, _ := New("0.004")
	if !z.IsZero() {
		t.Fatalf("expected %s to be treated as zero", z)
	}
	neg, _ := New("-5.00")
	if !neg.IsNegative() {
		t.Fatalf("expected %s to be negative", neg)
	}
}

func TestAmount_CentsRoundTrip(t *testing.T) {
	a := NewFromCents(1050)
	if a.Cents() != 1050 {
		t.Fatalf("expected 1050 cents, got %d", a.Cents())
	}
	if a.String() != "10.50" {
		t.Fatalf("expected 10.50, got %s", a.String())
	}
}

func TestAmount_ScanValueRoundTrip(t *testing.T) {
	var a Amount
	if err := a.Scan("42.75"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	v, err := a.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "42.75" {
		t.Fatalf("expected 42.75, got %v", v)
	}
}
