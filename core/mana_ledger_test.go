package core

import (
	"path/filepath"
	"testing"
)

func newTestManaLedger(t *testing.T) *ManaLedger {
	t.Helper()
	dir := t.TempDir()
	ml, err := NewManaLedger(ManaLedgerConfig{
		WALPath:          filepath.Join(dir, "mana.wal"),
		SnapshotPath:     filepath.Join(dir, "mana.snap"),
		SnapshotInterval: 100,
		DefaultCapacity:  1000,
	}, testLogger(), systemClock{})
	if err != nil {
		t.Fatalf("NewManaLedger: %v", err)
	}
	return ml
}

func TestManaLedgerCreditDebit(t *testing.T) {
	ml := newTestManaLedger(t)
	defer ml.Close()

	owner := DID("did:key:ztest")
	if err := ml.Credit(owner, 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	acc := ml.Get(owner)
	if acc.Balance != 500 {
		t.Fatalf("expected balance 500, got %d", acc.Balance)
	}

	if err := ml.Debit(owner, 200); err != nil {
		t.Fatalf("debit: %v", err)
	}
	acc = ml.Get(owner)
	if acc.Balance != 300 {
		t.Fatalf("expected balance 300, got %d", acc.Balance)
	}
}

func TestManaLedgerDebitInsufficientBalance(t *testing.T) {
	ml := newTestManaLedger(t)
	defer ml.Close()

	owner := DID("did:key:zpoor")
	if err := ml.Debit(owner, 1); err == nil {
		t.Fatalf("expected error debiting empty account")
	}
}

func TestManaLedgerCreditClampsAtCapacity(t *testing.T) {
	ml := newTestManaLedger(t)
	defer ml.Close()

	owner := DID("did:key:zcap")
	if err := ml.SetCapacity(owner, 100); err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	if err := ml.Credit(owner, 150); err != nil {
		t.Fatalf("credit: %v", err)
	}
	acc := ml.Get(owner)
	if acc.Balance != 100 {
		t.Fatalf("expected balance clamped to 100, got %d", acc.Balance)
	}
	if acc.Overflows != 1 {
		t.Fatalf("expected 1 overflow, got %d", acc.Overflows)
	}
}

func TestManaLedgerReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := ManaLedgerConfig{
		WALPath:         filepath.Join(dir, "mana.wal"),
		SnapshotPath:    filepath.Join(dir, "mana.snap"),
		DefaultCapacity: 1000,
	}
	owner := DID("did:key:zreplay")

	ml1, err := NewManaLedger(cfg, testLogger(), systemClock{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ml1.Credit(owner, 42); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ml1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ml2, err := NewManaLedger(cfg, testLogger(), systemClock{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ml2.Close()
	acc := ml2.Get(owner)
	if acc.Balance != 42 {
		t.Fatalf("expected replayed balance 42, got %d", acc.Balance)
	}
}

func TestRegenAmount(t *testing.T) {
	m := ContribMetrics{ReceiptsServed: 10, Reliability: 1.0, DemandPressure: 0}
	got := regenAmount(10, m)
	if got == 0 {
		t.Fatalf("expected positive regen amount")
	}
}
