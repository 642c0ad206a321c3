package core

import (
	"path/filepath"
	"testing"
)

func newTestExecutorAgent(t *testing.T, cfg ExecutorAgentConfig) (*ExecutorAgent, *ManaLedger, *ReputationStore) {
	t.Helper()
	dir := t.TempDir()
	ml, err := NewManaLedger(ManaLedgerConfig{
		WALPath:         filepath.Join(dir, "mana.wal"),
		SnapshotPath:    filepath.Join(dir, "mana.snap"),
		DefaultCapacity: 1000,
	}, testLogger(), systemClock{})
	if err != nil {
		t.Fatalf("NewManaLedger: %v", err)
	}
	rep := NewReputationStore(testLogger(), systemClock{})
	wallet, self := testWallet(t)
	cfg.Self = self
	agent := NewExecutorAgent(cfg, nil, nil, ml, rep, nil, wallet, systemClock{}, testLogger())
	return agent, ml, rep
}

func TestAdvertisePriceRespectsFloorAndPressure(t *testing.T) {
	agent, ml, _ := newTestExecutorAgent(t, ExecutorAgentConfig{PriceFloor: 10})
	if err := ml.Credit(agent.cfg.Self, 1000); err != nil {
		t.Fatalf("credit: %v", err)
	}
	spec := JobSpec{Limits: ResourceLimits{MinMana: 5}}

	priceFull := agent.advertisePrice(spec)
	if priceFull < agent.cfg.PriceFloor {
		t.Fatalf("expected price >= floor, got %d", priceFull)
	}

	if err := ml.Debit(agent.cfg.Self, 900); err != nil {
		t.Fatalf("debit: %v", err)
	}
	priceUnderPressure := agent.advertisePrice(spec)
	if priceUnderPressure <= priceFull {
		t.Fatalf("expected price to rise under mana pressure: full=%d pressured=%d", priceFull, priceUnderPressure)
	}
}

func TestAdvertisePriceDiscountsWithReputation(t *testing.T) {
	agent, ml, rep := newTestExecutorAgent(t, ExecutorAgentConfig{PriceFloor: 1})
	if err := ml.Credit(agent.cfg.Self, 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	spec := JobSpec{Limits: ResourceLimits{MinMana: 50}}

	baseline := agent.advertisePrice(spec)

	rep.RecordExecution(agent.cfg.Self, true)
	rep.RecordExecution(agent.cfg.Self, true)
	rep.RecordExecution(agent.cfg.Self, true)
	discounted := agent.advertisePrice(spec)

	if discounted > baseline {
		t.Fatalf("expected higher reputation to lower or hold price: baseline=%d discounted=%d", baseline, discounted)
	}
}

func TestDecodeJobManifestForExecutionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(StoreConfig{CacheDir: filepath.Join(dir, "cache")}, NewMemoryBackend(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	wallet, submitter := testWallet(t)
	_ = wallet
	spec := testJobSpec(t, store, submitter)
	spec.Limits.MaxWall = 0

	manifest, err := encodeJobManifest(spec)
	if err != nil {
		t.Fatalf("encodeJobManifest: %v", err)
	}

	wasmCID, limits, err := decodeJobManifestForExecution(manifest)
	if err != nil {
		t.Fatalf("decodeJobManifestForExecution: %v", err)
	}
	if wasmCID != spec.WasmCID {
		t.Fatalf("expected wasm cid %s, got %s", spec.WasmCID, wasmCID)
	}
	if limits.MaxFuel != spec.Limits.MaxFuel || limits.MinMana != spec.Limits.MinMana {
		t.Fatalf("limits did not round-trip: got %+v, want %+v", limits, spec.Limits)
	}
}
