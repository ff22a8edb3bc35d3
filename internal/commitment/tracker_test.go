package commitment

import (
	"errors"
	"math"
	"testing"

	"github.com/ppiankov/pactwatch/internal/model"
)

var (
	human = model.Key{0xA1}
	agent = model.Key{0xB1}
)

func committer(limit uint64) model.AgentIdentity {
	return model.AgentIdentity{
		Authority: human,
		AgentKey:  agent,
		Scope:     model.DelegationScope{CanCommitFunds: true, MaxCommitLamports: limit},
	}
}

// --- Check tests ---

func TestCheckUnlimited(t *testing.T) {
	res := Check(model.DelegationScope{}, model.Vault{TotalCommitted: math.MaxUint64 - 1}, 1)
	if res.Exceeded {
		t.Error("expected zero ceiling to be unlimited")
	}
}

func TestCheckBoundary(t *testing.T) {
	scope := model.DelegationScope{MaxCommitLamports: 1000}
	if Check(scope, model.Vault{TotalCommitted: 600}, 400).Exceeded {
		t.Error("expected exactly-at-ceiling to pass")
	}
	if !Check(scope, model.Vault{TotalCommitted: 600}, 401).Exceeded {
		t.Error("expected one over ceiling to fail")
	}
}

func TestCheckOverflowCountsAsExceeded(t *testing.T) {
	scope := model.DelegationScope{MaxCommitLamports: 10}
	if !Check(scope, model.Vault{TotalCommitted: 5}, math.MaxUint64).Exceeded {
		t.Error("expected overflow to exceed")
	}
}

// --- Reserve / Release tests ---

func TestReserveAccumulates(t *testing.T) {
	id := committer(1000)
	v := NewVault(id)

	v, err := Reserve(id, v, 700)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	v, err = Reserve(id, v, 300)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if v.TotalCommitted != 1000 {
		t.Errorf("expected 1000 committed, got %d", v.TotalCommitted)
	}

	after, err := Reserve(id, v, 1)
	if !errors.Is(err, model.ErrEscrowExceedsLimit) {
		t.Errorf("expected EscrowExceedsLimit, got %v", err)
	}
	if after.TotalCommitted != 1000 {
		t.Errorf("expected failed reserve to leave counter at 1000, got %d", after.TotalCommitted)
	}
}

func TestReserveRequiresCapability(t *testing.T) {
	id := committer(0)
	id.Scope.CanCommitFunds = false
	if _, err := Reserve(id, NewVault(id), 1); !errors.Is(err, model.ErrCannotCommitFunds) {
		t.Errorf("expected CannotCommitFunds, got %v", err)
	}
}

func TestReserveZeroAmount(t *testing.T) {
	id := committer(0)
	if _, err := Reserve(id, NewVault(id), 0); !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("expected InvalidAmount, got %v", err)
	}
}

func TestReleaseSaturates(t *testing.T) {
	v := model.Vault{TotalCommitted: 50}
	v = Release(v, 20)
	if v.TotalCommitted != 30 {
		t.Errorf("expected 30, got %d", v.TotalCommitted)
	}
	v = Release(v, 100)
	if v.TotalCommitted != 0 {
		t.Errorf("expected saturation at 0, got %d", v.TotalCommitted)
	}
}

// --- Vault tests ---

func TestDepositWithdraw(t *testing.T) {
	id := committer(0)
	v := NewVault(id)

	v, err := Deposit(id, v, human, 500)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	v, err = Reserve(id, v, 200)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if _, err := Withdraw(id, v, human, 301); !errors.Is(err, model.ErrInsufficientVaultBalance) {
		t.Errorf("expected InsufficientVaultBalance, got %v", err)
	}
	v, err = Withdraw(id, v, human, 300)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if v.Available() != 0 {
		t.Errorf("expected 0 available, got %d", v.Available())
	}
}

func TestVaultRequiresAuthority(t *testing.T) {
	id := committer(0)
	v := NewVault(id)
	if _, err := Deposit(id, v, agent, 1); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized deposit, got %v", err)
	}
	v.TotalDeposited = 10
	if _, err := Withdraw(id, v, agent, 1); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected Unauthorized withdraw, got %v", err)
	}
	if _, err := Deposit(id, v, human, 0); !errors.Is(err, model.ErrInvalidAmount) {
		t.Errorf("expected InvalidAmount, got %v", err)
	}
}
