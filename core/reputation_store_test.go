package core

import "testing"

func TestReputationStoreGetDefaultsToInitialScore(t *testing.T) {
	rs := NewReputationStore(testLogger(), systemClock{})
	rec := rs.Get(DID("did:key:zfresh"))
	if rec.Score != initialReputationScore {
		t.Fatalf("expected initial score %v, got %v", initialReputationScore, rec.Score)
	}
	if rec.Completed != 0 || rec.Failed != 0 {
		t.Fatalf("expected zero completion/failure counts, got %+v", rec)
	}
}

func TestReputationStoreRecordExecutionSuccess(t *testing.T) {
	rs := NewReputationStore(testLogger(), systemClock{})
	owner := DID("did:key:zgood")

	rs.RecordExecution(owner, true)
	rec := rs.Get(owner)
	if rec.Score != initialReputationScore+reputationCompletionGain {
		t.Fatalf("expected score %v, got %v", initialReputationScore+reputationCompletionGain, rec.Score)
	}
	if rec.Completed != 1 {
		t.Fatalf("expected 1 completion, got %d", rec.Completed)
	}
}

func TestReputationStoreRecordExecutionFailureClampsAtZero(t *testing.T) {
	rs := NewReputationStore(testLogger(), systemClock{})
	owner := DID("did:key:zbad")

	for i := 0; i < 10; i++ {
		rs.RecordExecution(owner, false)
	}
	rec := rs.Get(owner)
	if rec.Score != minReputationScore {
		t.Fatalf("expected score clamped to %v, got %v", minReputationScore, rec.Score)
	}
	if rec.Failed != 10 {
		t.Fatalf("expected 10 failures, got %d", rec.Failed)
	}
}

func TestReputationStoreRecordProofFailurePenalizesMoreThanExecutionFailure(t *testing.T) {
	rs := NewReputationStore(testLogger(), systemClock{})
	execFailer := DID("did:key:zexecfail")
	proofFailer := DID("did:key:zprooffail")

	rs.RecordExecution(execFailer, false)
	rs.RecordProofFailure(proofFailer)

	execScore := rs.Get(execFailer).Score
	proofScore := rs.Get(proofFailer).Score
	if proofScore >= execScore {
		t.Fatalf("expected proof failure penalty to exceed execution failure penalty: proof=%v exec=%v", proofScore, execScore)
	}
}

func TestReputationStoreSnapshotIsIndependentCopy(t *testing.T) {
	rs := NewReputationStore(testLogger(), systemClock{})
	owner := DID("did:key:zsnap")
	rs.RecordExecution(owner, true)

	snap := rs.Snapshot()
	rec, ok := snap[owner]
	if !ok {
		t.Fatalf("expected snapshot to contain %s", owner)
	}
	before := rec.Score

	rs.RecordExecution(owner, true)
	if snap[owner].Score != before {
		t.Fatalf("expected snapshot entry to remain unchanged after further mutation")
	}
	if rs.Get(owner).Score == before {
		t.Fatalf("expected live store to reflect the further mutation")
	}
}
