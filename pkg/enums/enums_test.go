package enums

import "testing"

func TestParseRoundTrips(t *testing.T) {
	for _, s := range validLineStates {
		got, err := ParseLineState(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseLineState(%q) = %q, %v", s, got, err)
		}
	}
	for _, p := range validFailurePolicies {
		if !p.IsValid() {
			t.Fatalf("%q should be valid", p)
		}
	}
	if src, err := ParseMembershipSource("fallback"); err != nil || src != MembershipSourceFallback {
		t.Fatalf("ParseMembershipSource(fallback) = %q, %v", src, err)
	}
	if _, err := ParseMembershipSource("guessed"); err == nil {
		t.Fatal("expected error for unknown source")
	}
	if MembershipStatus("lapsed").IsValid() {
		t.Fatal("unknown status must not be valid")
	}
	if c, err := ParseCurrency(" usd "); err != nil || c != CurrencyUSD {
		t.Fatalf("ParseCurrency(usd) = %q, %v", c, err)
	}
	if _, err := ParseCurrency("XTS"); err == nil {
		t.Fatal("expected error for unsupported currency")
	}
	if _, err := ParseMutationKind("ADD"); err == nil {
		t.Fatal("parsing is case sensitive")
	}
}

func TestCurrencyDecimals(t *testing.T) {
	if CurrencyUSD.Decimals() != 2 || CurrencyJPY.Decimals() != 0 {
		t.Fatalf("unexpected minor units usd=%d jpy=%d", CurrencyUSD.Decimals(), CurrencyJPY.Decimals())
	}
	if Currency("").Decimals() != 2 {
		t.Fatal("unknown currency should render with 2 decimals")
	}
}

func TestParseMembershipStatusNormalizes(t *testing.T) {
	if s, err := ParseMembershipStatus(" Active "); err != nil || s != MembershipStatusActive {
		t.Fatalf("got %q, %v", s, err)
	}
	if s, err := ParseMembershipStatus(""); err != nil || s != MembershipStatusNone {
		t.Fatalf("empty status should be none, got %q, %v", s, err)
	}
	if s, err := ParseMembershipStatus("lapsed"); err == nil || s != MembershipStatusNone {
		t.Fatalf("unknown status should error and map to none, got %q, %v", s, err)
	}
}
