package ratelimit

import (
	"strings"
	"testing"
	"time"
)

var epoch = time.Unix(1_700_000_000, 0)

// --- Config tests ---

func TestHasLimitsEmpty(t *testing.T) {
	if (Limits{}).HasLimits() {
		t.Error("expected empty limits to have no limits")
	}
}

func TestHasLimitsConfigured(t *testing.T) {
	l := Limits{CategoryAgreement: {MaxRequests: 10, Window: time.Minute}}
	if !l.HasLimits() {
		t.Error("expected HasLimits=true for configured limit")
	}
}

func TestHasLimitsZeroValues(t *testing.T) {
	for _, l := range []*Limit{
		{MaxRequests: 0, Window: time.Minute},
		{MaxRequests: 10, Window: 0},
		nil,
	} {
		if (Limits{CategoryVault: l}).HasLimits() {
			t.Errorf("expected HasLimits=false for %+v", l)
		}
	}
}

func TestConfigFor(t *testing.T) {
	cfg := Config{
		"abc":    {CategoryVault: {MaxRequests: 1, Window: time.Minute}},
		Wildcard: {CategoryVault: {MaxRequests: 9, Window: time.Minute}},
	}
	if got := cfg.For("abc")[CategoryVault].MaxRequests; got != 1 {
		t.Errorf("expected signer entry, got %d", got)
	}
	if got := cfg.For("other")[CategoryVault].MaxRequests; got != 9 {
		t.Errorf("expected wildcard entry, got %d", got)
	}
	if Config(nil).For("abc") != nil {
		t.Error("expected nil limits from nil config")
	}
}

// --- Check tests ---

func TestCheckWithinLimit(t *testing.T) {
	if r := Check(4, &Limit{MaxRequests: 5, Window: time.Minute}); r.Exceeded {
		t.Error("expected within limit")
	}
}

func TestCheckAtLimit(t *testing.T) {
	r := Check(5, &Limit{MaxRequests: 5, Window: time.Minute})
	if !r.Exceeded {
		t.Fatal("expected exceeded")
	}
	if !strings.Contains(r.Reason, "5/5") {
		t.Errorf("unexpected reason %q", r.Reason)
	}
}

func TestCheckNilLimit(t *testing.T) {
	if Check(1000, nil).Exceeded {
		t.Error("expected nil limit to allow")
	}
}

// --- Enforcer tests ---

func TestAllowUntilExceeded(t *testing.T) {
	e := NewEnforcer(Config{Wildcard: {CategoryAgreement: {MaxRequests: 2, Window: time.Minute}}})

	for i := 0; i < 2; i++ {
		if r := e.Allow("alice", CategoryAgreement, epoch); r.Exceeded {
			t.Fatalf("call %d unexpectedly limited", i)
		}
	}
	r := e.Allow("alice", CategoryAgreement, epoch)
	if !r.Exceeded {
		t.Fatal("expected third call limited")
	}
	if r.Category != CategoryAgreement {
		t.Errorf("expected category %s, got %s", CategoryAgreement, r.Category)
	}

	// Counters are per signer.
	if r := e.Allow("bob", CategoryAgreement, epoch); r.Exceeded {
		t.Error("expected bob to have his own window")
	}
}

func TestAllowCategoriesIndependent(t *testing.T) {
	e := NewEnforcer(Config{Wildcard: {
		CategoryAgreement: {MaxRequests: 1, Window: time.Minute},
		CategoryVault:     {MaxRequests: 1, Window: time.Minute},
	}})
	e.Allow("alice", CategoryAgreement, epoch)
	if !e.Allow("alice", CategoryAgreement, epoch).Exceeded {
		t.Fatal("expected agreement calls limited")
	}
	if e.Allow("alice", CategoryVault, epoch).Exceeded {
		t.Error("expected vault calls independent of agreement limit")
	}
	if e.Allow("alice", CategoryIdentity, epoch).Exceeded {
		t.Error("expected unconfigured category to be unlimited")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	e := NewEnforcer(Config{Wildcard: {CategoryVault: {MaxRequests: 1, Window: time.Minute}}})
	e.Allow("alice", CategoryVault, epoch)
	if !e.Allow("alice", CategoryVault, epoch.Add(30*time.Second)).Exceeded {
		t.Fatal("expected limited within window")
	}
	if e.Allow("alice", CategoryVault, epoch.Add(2*time.Minute)).Exceeded {
		t.Error("expected reset after window expiry")
	}
}

func TestAllowSignerOverridesWildcard(t *testing.T) {
	e := NewEnforcer(Config{
		"alice":  {CategoryAgreement: {MaxRequests: 1, Window: time.Minute}},
		Wildcard: {CategoryAgreement: {MaxRequests: 100, Window: time.Minute}},
	})
	e.Allow("alice", CategoryAgreement, epoch)
	if !e.Allow("alice", CategoryAgreement, epoch).Exceeded {
		t.Error("expected signer-specific limit (1) to apply, not wildcard (100)")
	}
}

func TestSetConfigLifts(t *testing.T) {
	e := NewEnforcer(Config{Wildcard: {CategoryVault: {MaxRequests: 1, Window: time.Minute}}})
	e.Allow("alice", CategoryVault, epoch)
	if !e.Allow("alice", CategoryVault, epoch).Exceeded {
		t.Fatal("expected limited")
	}
	e.SetConfig(nil)
	if e.Allow("alice", CategoryVault, epoch).Exceeded {
		t.Error("expected no limit after config cleared")
	}
}

func TestNilConfigAllows(t *testing.T) {
	e := NewEnforcer(nil)
	for i := 0; i < 100; i++ {
		if e.Allow("alice", CategoryAgreement, epoch).Exceeded {
			t.Fatal("expected nil config to allow everything")
		}
	}
}
