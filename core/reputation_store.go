package core

// ReputationStore tracks each DID's monotone, clamped-at-zero execution
// score. Grounded on the StakePenaltyManager's accumulator pattern — a
// mutex-guarded store keyed by identity, adjusted by small deltas and
// logged at WARN on negative events — adapted from ledger-backed
// big-endian counters to an in-memory float score since reputation here is
// advisory (it biases bid scoring) rather than consensus-critical state.

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	reputationCompletionGain = 1.0
	reputationFailurePenalty = 3.0
	reputationProofPenalty   = 5.0
	minReputationScore       = 0.0
	initialReputationScore   = 10.0
)

// ReputationStore is a concurrency-safe store of per-DID reputation
// records.
type ReputationStore struct {
	mu      sync.RWMutex
	logger  *log.Logger
	records map[DID]*ReputationRecord
	clock   TimeProvider
}

// NewReputationStore constructs an empty store.
func NewReputationStore(lg *log.Logger, clock TimeProvider) *ReputationStore {
	return &ReputationStore{
		logger:  lg,
		records: make(map[DID]*ReputationRecord),
		clock:   clock,
	}
}

// Get returns a copy of owner's record, creating one at the initial score
// if it does not yet exist.
func (rs *ReputationStore) Get(owner DID) ReputationRecord {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if rec, ok := rs.records[owner]; ok {
		return *rec
	}
	return ReputationRecord{Owner: owner, Score: initialReputationScore}
}

func (rs *ReputationStore) getOrCreate(owner DID) *ReputationRecord {
	rec, ok := rs.records[owner]
	if !ok {
		rec = &ReputationRecord{Owner: owner, Score: initialReputationScore}
		rs.records[owner] = rec
	}
	return rec
}

// RecordExecution updates owner's score following a completed or failed job
// execution.
func (rs *ReputationStore) RecordExecution(owner DID, success bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rec := rs.getOrCreate(owner)
	if success {
		rec.Score += reputationCompletionGain
		rec.Completed++
		reputationUpdatesTotal.WithLabelValues("completed").Inc()
	} else {
		rec.Score -= reputationFailurePenalty
		rec.Failed++
		reputationUpdatesTotal.WithLabelValues("failed").Inc()
		rs.logger.WithFields(log.Fields{"did": owner, "score": rec.Score}).Warn("reputation: execution failure recorded")
	}
	if rec.Score < minReputationScore {
		rec.Score = minReputationScore
	}
	rec.LastUpdated = rs.now()
}

// RecordProofFailure penalizes owner for submitting a receipt that failed
// verification — treated more severely than an honest execution failure
// since it implies a dishonest or malfunctioning executor.
func (rs *ReputationStore) RecordProofFailure(owner DID) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rec := rs.getOrCreate(owner)
	rec.Score -= reputationProofPenalty
	if rec.Score < minReputationScore {
		rec.Score = minReputationScore
	}
	rec.Failed++
	rec.LastUpdated = rs.now()
	reputationUpdatesTotal.WithLabelValues("proof_failure").Inc()
	rs.logger.WithFields(log.Fields{"did": owner, "score": rec.Score}).Warn("reputation: invalid receipt recorded")
}

func (rs *ReputationStore) now() time.Time {
	if rs.clock == nil {
		return time.Now()
	}
	return rs.clock.Now()
}

// Snapshot returns a copy of every tracked record, for persistence or
// display.
func (rs *ReputationStore) Snapshot() map[DID]ReputationRecord {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make(map[DID]ReputationRecord, len(rs.records))
	for k, v := range rs.records {
		out[k] = *v
	}
	return out
}
