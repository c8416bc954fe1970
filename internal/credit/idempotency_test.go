package credit

import "testing"

func TestKey_SameArgsAlwaysMatch(t *testing.T) {
	a := Key("checkout", "acct-1", "sess-1")
	b := Key("checkout", "acct-1", "sess-1")
	if a != b {
		t.Fatalf("expected a stable key for the same Stripe object, got %q vs %q", a, b)
	}
	if len(a) != idempotencyKeyLength {
		t.Fatalf("expected key length %d, got %d", idempotencyKeyLength, len(a))
	}
}

func TestKey_DifferentArgsDiffer(t *testing.T) {
	a := Key("checkout", "acct-1", "sess-1")
	b := Key("checkout", "acct-1", "sess-2")
	if a == b {
		t.Fatalf("expected different session IDs to produce different keys")
	}
}

func TestKey_DifferentOperationsDiffer(t *testing.T) {
	a := CheckoutKey("acct-1", "sess-1")
	b := CreditPurchaseKey("acct-1", "sess-1")
	if a == b {
		t.Fatalf("expected different operations to produce different keys even with identical args")
	}
}
