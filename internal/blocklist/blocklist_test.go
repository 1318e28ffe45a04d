package blocklist

import "testing"

func Test_valid_subdomains(t *testing.T) {
	for _, s := range []string{"myapp", "cool-project", "app123", "my-cool-app"} {
		if r := Check(s); !r.Allowed {
			t.Errorf("%q: expected allowed, got reason %d (%s)", s, r.Reason, r.Message())
		}
	}
}

func Test_blocked_brands(t *testing.T) {
	for _, s := range []string{"paypal", "google", "netflix", "coinbase"} {
		if r := Check(s); r.Allowed {
			t.Errorf("%q: expected blocked", s)
		}
	}
}

func Test_blocked_contains(t *testing.T) {
	for _, s := range []string{"my-paypal-login", "google-verify", "secure-bank"} {
		if r := Check(s); r.Allowed {
			t.Errorf("%q: expected blocked", s)
		}
	}
}

func Test_reserved_infrastructure_names(t *testing.T) {
	for _, s := range []string{"api", "admin", "www"} {
		if r := Check(s); r.Allowed {
			t.Errorf("%q: expected blocked", s)
		}
	}
}

func Test_length_boundaries(t *testing.T) {
	three := "abc"
	if r := Check(three); !r.Allowed {
		t.Errorf("length 3 should be accepted, got %s", r.Message())
	}
	two := "ab"
	if r := Check(two); r.Allowed || r.Reason != ReasonTooShort {
		t.Errorf("length 2 should be rejected as too short")
	}

	sixtyThree := repeat("a", 61) + "bc"
	if len(sixtyThree) != 63 {
		t.Fatalf("test setup: want 63 got %d", len(sixtyThree))
	}
	if r := Check(sixtyThree); !r.Allowed {
		t.Errorf("length 63 should be accepted, got %s", r.Message())
	}

	sixtyFour := sixtyThree + "d"
	if r := Check(sixtyFour); r.Allowed || r.Reason != ReasonTooLong {
		t.Errorf("length 64 should be rejected as too long")
	}
}

func Test_invalid_shapes(t *testing.T) {
	cases := map[string]Reason{
		"-test":      ReasonInvalidChars,
		"test-":      ReasonInvalidChars,
		"te--st":     ReasonInvalidChars,
		"123456":     ReasonAllNumeric,
		"192-168-1-1": ReasonLooksLikeIP,
	}
	for s, want := range cases {
		r := Check(s)
		if r.Allowed || r.Reason != want {
			t.Errorf("%q: expected reason %d, got allowed=%v reason=%d", s, want, r.Allowed, r.Reason)
		}
	}
}

func Test_fold_to_lowercase_before_matching(t *testing.T) {
	if r := Check("PayPal"); r.Allowed {
		t.Error("expected mixed-case brand name to be blocked")
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
