package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
)

type recordingBus struct {
	mu       chan struct{}
	messages []struct {
		topic string
		data  []byte
	}
}

func newRecordingBus() *recordingBus {
	return &recordingBus{mu: make(chan struct{}, 1)}
}

func (b *recordingBus) Broadcast(topic string, data []byte) error {
	b.messages = append(b.messages, struct {
		topic string
		data  []byte
	}{topic, data})
	return nil
}

func testWallet(t *testing.T) (*HDWallet, DID) {
	t.Helper()
	w, _, err := NewRandomWallet(128)
	if err != nil {
		t.Fatalf("NewRandomWallet: %v", err)
	}
	did, err := w.NewDID(0, 0)
	if err != nil {
		t.Fatalf("NewDID: %v", err)
	}
	return w, did
}

func newTestJobManager(t *testing.T) (*JobManager, *ManaLedger, *Store, DID) {
	t.Helper()
	dir := t.TempDir()
	ml, err := NewManaLedger(ManaLedgerConfig{
		WALPath:         filepath.Join(dir, "mana.wal"),
		SnapshotPath:    filepath.Join(dir, "mana.snap"),
		DefaultCapacity: 10_000,
	}, testLogger(), systemClock{})
	if err != nil {
		t.Fatalf("NewManaLedger: %v", err)
	}
	rep := NewReputationStore(testLogger(), systemClock{})
	store, err := NewStore(StoreConfig{CacheDir: filepath.Join(dir, "cache")}, NewMemoryBackend(), testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	wallet, self := testWallet(t)
	cfg := DefaultJobManagerConfig()
	cfg.BidWindow = 20 * time.Millisecond
	cfg.ExecutionWindow = 20 * time.Millisecond
	cfg.AssignAckGrace = 0
	jm := NewJobManager(store, ml, rep, newRecordingBus(), systemClock{}, NewFakeRng(1), testLogger(), cfg, self, wallet, 0, 0)
	return jm, ml, store, self
}

func testJobSpec(t *testing.T, store *Store, submitter DID) JobSpec {
	t.Helper()
	wasmCID, err := store.Put(context.Background(), []byte("wasm-bytes"))
	if err != nil {
		t.Fatalf("put wasm: %v", err)
	}
	return JobSpec{
		Submitter: submitter,
		WasmCID:   wasmCID,
		InputCID:  cid.Undef,
		Limits:    ResourceLimits{MaxFuel: 1000, MinMana: 1},
		MaxReward: 100,
		Deadline:  time.Now().Add(time.Hour),
		Nonce:     1,
	}
}

func TestJobManagerSubmitDebitsMana(t *testing.T) {
	jm, ml, store, submitter := newTestJobManager(t)
	if err := ml.Credit(submitter, 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	spec := testJobSpec(t, store, submitter)

	jobCID, err := jm.Submit(context.Background(), spec, 100)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if jobCID == cid.Undef {
		t.Fatalf("expected non-empty job cid")
	}
	acc := ml.Get(submitter)
	if acc.Balance != 400 {
		t.Fatalf("expected balance 400 after reserving 100, got %d", acc.Balance)
	}

	state, err := jm.Get(jobCID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.State != JobBidding {
		t.Fatalf("expected Bidding, got %s", state.State)
	}
}

func TestJobManagerNoBidsRefundsAndFails(t *testing.T) {
	jm, ml, store, submitter := newTestJobManager(t)
	if err := ml.Credit(submitter, 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	spec := testJobSpec(t, store, submitter)

	jobCID, err := jm.Submit(context.Background(), spec, 100)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	state, err := jm.Get(jobCID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.State != JobFailed {
		t.Fatalf("expected Failed, got %s", state.State)
	}
	if state.FailReason != "NoSuitableExecutor" {
		t.Fatalf("expected NoSuitableExecutor, got %s", state.FailReason)
	}
	acc := ml.Get(submitter)
	if acc.Balance != 500 {
		t.Fatalf("expected full refund to 500, got %d", acc.Balance)
	}
}

func TestJobManagerBidAssignmentAndReceipt(t *testing.T) {
	jm, ml, store, submitter := newTestJobManager(t)
	jm.cfg.ExecutionWindow = time.Second // the receipt below must land inside the window
	if err := ml.Credit(submitter, 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	spec := testJobSpec(t, store, submitter)
	jobCID, err := jm.Submit(context.Background(), spec, 100)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	executorWallet, executor := testWallet(t)
	bid := Bid{JobCID: jobCID, Executor: executor, Price: 40, Reputation: 5, SubmitAt: time.Now()}
	if err := jm.HandleBid(bid); err != nil {
		t.Fatalf("handle bid: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	state, err := jm.Get(jobCID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.State != JobAssigned {
		t.Fatalf("expected Assigned, got %s", state.State)
	}
	if state.Assignment == nil {
		t.Fatalf("expected assignment to be set")
	}
	if state.Assignment.Executor != executor {
		t.Fatalf("expected executor %s, got %s", executor, state.Assignment.Executor)
	}

	outputCID, err := store.Put(context.Background(), []byte("result"))
	if err != nil {
		t.Fatalf("put output: %v", err)
	}
	receipt := Receipt{
		JobCID:     jobCID,
		Executor:   executor,
		OutputCID:  outputCID,
		FuelUsed:   10,
		ExitCode:   0,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	digest, err := receiptSigningBytes(receipt)
	if err != nil {
		t.Fatalf("receipt signing bytes: %v", err)
	}
	receipt.Signature, err = executorWallet.Sign(0, 0, digest)
	if err != nil {
		t.Fatalf("sign receipt: %v", err)
	}
	if err := jm.HandleReceipt(context.Background(), receipt); err != nil {
		t.Fatalf("handle receipt: %v", err)
	}

	state, err = jm.Get(jobCID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.State != JobCompleted {
		t.Fatalf("expected Completed, got %s", state.State)
	}

	execAcc := ml.Get(executor)
	if execAcc.Balance != 40 {
		t.Fatalf("expected executor credited 40, got %d", execAcc.Balance)
	}
	subAcc := ml.Get(submitter)
	if subAcc.Balance != 460 {
		t.Fatalf("expected submitter refunded remainder to 460, got %d", subAcc.Balance)
	}
}

func TestJobManagerCancelRefundsAndTransitions(t *testing.T) {
	jm, ml, store, submitter := newTestJobManager(t)
	if err := ml.Credit(submitter, 500); err != nil {
		t.Fatalf("credit: %v", err)
	}
	spec := testJobSpec(t, store, submitter)
	jobCID, err := jm.Submit(context.Background(), spec, 100)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := jm.Cancel(jobCID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	state, err := jm.Get(jobCID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.State != JobCancelled {
		t.Fatalf("expected Cancelled, got %s", state.State)
	}
	if state.FailReason != "Cancelled" {
		t.Fatalf("expected FailReason Cancelled, got %s", state.FailReason)
	}
	acc := ml.Get(submitter)
	if acc.Balance != 500 {
		t.Fatalf("expected full refund to 500, got %d", acc.Balance)
	}

	// The bid window's timer must not fire a second transition after cancel.
	time.Sleep(40 * time.Millisecond)
	state, err = jm.Get(jobCID)
	if err != nil {
		t.Fatalf("get after wait: %v", err)
	}
	if state.State != JobCancelled {
		t.Fatalf("expected job to remain Cancelled, got %s", state.State)
	}

	if err := jm.Cancel(jobCID); err != nil {
		t.Fatalf("cancel on already-terminal job should be a no-op, got: %v", err)
	}
}

func TestSelectWinnerTieBreak(t *testing.T) {
	jobCID, _ := SumCID([]byte("job"))
	rep := NewReputationStore(testLogger(), systemClock{})
	a := Bid{JobCID: jobCID, Executor: DID("did:key:zb"), Price: 10}
	b := Bid{JobCID: jobCID, Executor: DID("did:key:za"), Price: 10}
	winner, ok := selectWinner(defaultScoreWeights, rep, []Bid{a, b})
	if !ok {
		t.Fatalf("expected a winner")
	}
	if winner.Executor != DID("did:key:za") {
		t.Fatalf("expected lexicographically smaller executor to win tie, got %s", winner.Executor)
	}
}
