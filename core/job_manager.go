package core

// Job Manager: the mesh's core algorithm — submission, bid collection,
// deterministic executor selection, assignment, receipt verification,
// timeouts, and the resulting mana/reputation settlement. Grounded on
// dao_proposal.go's "create with deadline -> accumulate -> close -> tally"
// lifecycle (a uuid-keyed proposal there becomes a CID-keyed job here) and
// consensus_weights.go's weighted, clamped scoring (there over validator
// votes, here over executor bids).

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"synnergy-network/pkg/errs"
)

const (
	TopicJobAnnounce = "icn/job-announce/v1"
	TopicBid         = "icn/bid/v1"
	TopicAssignment  = "icn/assignment/v1"
	TopicReceipt     = "icn/receipt/v1"
)

// RefundPolicy names how a completed job's reserved mana is split between
// submitter and executor.
type RefundPolicy string

const (
	// RefundRemainder returns cost_mana-price_mana to the submitter and
	// credits price_mana to the executor.
	RefundRemainder RefundPolicy = "refund_remainder"
	// RefundNone credits the full reserved cost_mana to the executor; used
	// by flat-rate federations that don't refund unspent budget.
	RefundNone RefundPolicy = "refund_none"
)

// ScoreWeights controls the executor-selection formula's relative weight
// on price, reputation, and declared resources.
type ScoreWeights struct {
	Price      float64
	Reputation float64
	Resource   float64
}

var defaultScoreWeights = ScoreWeights{Price: 1.0, Reputation: 50.0, Resource: 1.0}

// JobManagerConfig holds the manager's timing and policy knobs.
type JobManagerConfig struct {
	BidWindow        time.Duration
	ExecutionWindow  time.Duration
	AssignAckGrace   time.Duration
	Weights          ScoreWeights
	RefundPolicy     RefundPolicy
}

// DefaultJobManagerConfig returns the spec's documented defaults.
func DefaultJobManagerConfig() JobManagerConfig {
	return JobManagerConfig{
		BidWindow:       10 * time.Second,
		ExecutionWindow: 60 * time.Second,
		AssignAckGrace:  2 * time.Second,
		Weights:         defaultScoreWeights,
		RefundPolicy:    RefundRemainder,
	}
}

// jobManifestWire is the RLP-encodable projection of a JobSpec, the job
// block's canonical on-DAG representation.
type jobManifestWire struct {
	Submitter    string
	WasmCID      string
	InputCID     string
	MaxFuel      uint64
	MaxMemory    uint64
	MaxWallMs    int64
	MinMana      uint64
	MaxReward    uint64
	CostMana     uint64
	DeadlineUnix int64
	Nonce        uint64
}

func encodeJobManifest(spec JobSpec) ([]byte, error) {
	w := jobManifestWire{
		Submitter:    string(spec.Submitter),
		WasmCID:      spec.WasmCID.String(),
		InputCID:     spec.InputCID.String(),
		MaxFuel:      spec.Limits.MaxFuel,
		MaxMemory:    spec.Limits.MaxMemory,
		MaxWallMs:    spec.Limits.MaxWall.Milliseconds(),
		MinMana:      spec.Limits.MinMana,
		MaxReward:    spec.MaxReward,
		CostMana:     spec.CostMana,
		DeadlineUnix: spec.Deadline.Unix(),
		Nonce:        spec.Nonce,
	}
	return rlp.EncodeToBytes(&w)
}

// jobEntry is a job's manager-side bookkeeping, guarded by its own mutex so
// one job's timers never contend with another's.
type jobEntry struct {
	mu    sync.Mutex
	state JobState
	// receiptAccepted tracks whether a valid receipt has already settled
	// this job, enforcing at-most-one-execution.
	receiptAccepted bool

	// ctx/cancel pre-empt the job's bid/execution timers, used by Cancel to
	// drive an in-flight job straight to the Cancelled terminal state.
	ctx    context.Context
	cancel context.CancelFunc
}

// reservedCost is the mana set aside from a submitter for one job.
type reservedCost struct {
	submitter DID
	amount    uint64
}

// JobManager drives every job through submission, bidding, assignment,
// execution and settlement.
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry

	resMu        sync.Mutex
	reservations map[string]reservedCost

	dag        *Store
	mana       *ManaLedger
	reputation *ReputationStore
	bus        Broadcaster
	clock      TimeProvider
	rng        RngProvider
	logger     *logrus.Logger
	cfg        JobManagerConfig

	self          DID
	wallet        *HDWallet
	walletAccount uint32
	walletIndex   uint32
}

// NewJobManager wires a JobManager over its collaborators. self/wallet
// identify the local submitter node, used to sign every outgoing
// JobAnnouncement and Assignment.
func NewJobManager(dag *Store, mana *ManaLedger, reputation *ReputationStore, bus Broadcaster, clock TimeProvider, rng RngProvider, lg *logrus.Logger, cfg JobManagerConfig, self DID, wallet *HDWallet, walletAccount, walletIndex uint32) *JobManager {
	return &JobManager{
		jobs:          make(map[string]*jobEntry),
		reservations:  make(map[string]reservedCost),
		dag:           dag,
		mana:          mana,
		reputation:    reputation,
		bus:           bus,
		clock:         clock,
		rng:           rng,
		logger:        lg,
		cfg:           cfg,
		self:          self,
		wallet:        wallet,
		walletAccount: walletAccount,
		walletIndex:   walletIndex,
	}
}

// broadcastSigned signs m as self and publishes it on topic.
func (jm *JobManager) broadcastSigned(topic string, m ProtocolMessage) error {
	if jm.bus == nil {
		return nil
	}
	signed, err := Sign(m, jm.self, jm.wallet, jm.walletAccount, jm.walletIndex)
	if err != nil {
		return fmt.Errorf("job manager: sign: %w", err)
	}
	data, err := EncodeSignedMessage(signed)
	if err != nil {
		return fmt.Errorf("job manager: encode signed message: %w", err)
	}
	return jm.bus.Broadcast(topic, data)
}

func (jm *JobManager) now() time.Time {
	if jm.clock == nil {
		return time.Now()
	}
	return jm.clock.Now()
}

// Submit validates spec, reserves costMana from the submitter's mana
// account, publishes the job manifest to the DAG, and opens the bid
// window. It returns the job's CID (its canonical id).
func (jm *JobManager) Submit(ctx context.Context, spec JobSpec, costMana uint64) (cid.Cid, error) {
	const op = "job_manager.Submit"
	if spec.Submitter.Empty() {
		return cid.Undef, errs.New(errs.KindInvalidSpec, op, fmt.Errorf("missing submitter"))
	}
	if spec.WasmCID == cid.Undef {
		return cid.Undef, errs.New(errs.KindInvalidSpec, op, fmt.Errorf("missing wasm cid"))
	}
	if spec.Deadline.Before(jm.now()) {
		return cid.Undef, errs.New(errs.KindInvalidSpec, op, fmt.Errorf("deadline in the past"))
	}

	if err := jm.mana.Debit(spec.Submitter, costMana); err != nil {
		return cid.Undef, errs.New(errs.KindInsufficientMana, op, err)
	}
	spec.CostMana = costMana

	manifest, err := encodeJobManifest(spec)
	if err != nil {
		jm.refund(spec.Submitter, costMana)
		return cid.Undef, errs.New(errs.KindSerialization, op, err)
	}
	jobCID, err := jm.dag.Put(ctx, manifest)
	if err != nil {
		jm.refund(spec.Submitter, costMana)
		return cid.Undef, errs.New(errs.KindDagOperationFailed, op, err)
	}
	jm.dag.Pin(jobCID, 0)

	jobCtx, cancel := context.WithCancel(context.Background())
	entry := &jobEntry{
		state: JobState{
			Spec:      spec,
			State:     JobBidding,
			UpdatedAt: jm.now(),
		},
		ctx:    jobCtx,
		cancel: cancel,
	}
	jm.mu.Lock()
	jm.jobs[jobCID.String()] = entry
	jm.mu.Unlock()

	jm.reserved(jobCID, spec.Submitter, costMana)

	if err := jm.broadcastJobAnnounce(jobCID, spec); err != nil {
		jm.logger.WithError(err).Warn("job manager: announce broadcast failed")
	}

	go jm.runBidWindow(jobCtx, jobCID, costMana)

	jobsSubmittedTotal.Inc()
	jm.logger.WithFields(logrus.Fields{"job": jobCID.String(), "submitter": spec.Submitter}).Info("job manager: job submitted")
	return jobCID, nil
}

// reserved records the mana set aside for a job, consulted at settlement
// time to compute refunds.
func (jm *JobManager) reserved(jobCID cid.Cid, submitter DID, amount uint64) {
	jm.resMu.Lock()
	defer jm.resMu.Unlock()
	jm.reservations[jobCID.String()] = reservedCost{submitter: submitter, amount: amount}
}

func (jm *JobManager) takeReservation(jobCID cid.Cid) (reservedCost, bool) {
	jm.resMu.Lock()
	defer jm.resMu.Unlock()
	r, ok := jm.reservations[jobCID.String()]
	delete(jm.reservations, jobCID.String())
	return r, ok
}

func (jm *JobManager) refund(owner DID, amount uint64) {
	if amount == 0 {
		return
	}
	if err := jm.mana.Credit(owner, amount); err != nil {
		jm.logger.WithError(err).WithField("owner", owner).Warn("job manager: refund credit failed")
	}
}

func (jm *JobManager) broadcastJobAnnounce(jobCID cid.Cid, spec JobSpec) error {
	return jm.broadcastSigned(TopicJobAnnounce, ProtocolMessage{Kind: KindJobAnnounce, JobCID: jobCID, JobSpec: &spec})
}

// runBidWindow waits out the bid window then closes bidding for the job, or
// exits early (without closing bidding) if ctx is cancelled first. A window
// of exactly 0 closes bidding immediately, per the documented boundary that
// a 0s bid window fails the job even if a late bid arrives; only a negative
// (unset) window substitutes the package default.
func (jm *JobManager) runBidWindow(ctx context.Context, jobCID cid.Cid, costMana uint64) {
	window := jm.cfg.BidWindow
	if window < 0 {
		window = DefaultJobManagerConfig().BidWindow
	}
	if window > 0 {
		timer := time.NewTimer(window)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}
	jm.closeBidding(jobCID, costMana)
}

// HandleBid validates and accumulates an incoming bid, rejecting bids
// outside the bidding state or arriving after the window has closed.
func (jm *JobManager) HandleBid(bid Bid) error {
	const op = "job_manager.HandleBid"
	entry, ok := jm.lookup(bid.JobCID)
	if !ok {
		return errs.New(errs.KindUnknownJob, op, fmt.Errorf("job %s", bid.JobCID))
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state.State != JobBidding {
		return errs.New(errs.KindInvalidJobState, op, fmt.Errorf("job is %s", entry.state.State))
	}
	if bid.Executor == entry.state.Spec.Submitter {
		return errs.New(errs.KindInvalidSpec, op, fmt.Errorf("executor must not be the submitter"))
	}
	if bid.Price == 0 {
		return errs.New(errs.KindInvalidSpec, op, fmt.Errorf("zero price rejected"))
	}
	entry.state.Bids = append(entry.state.Bids, bid)
	return nil
}

func (jm *JobManager) lookup(jobCID cid.Cid) (*jobEntry, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	e, ok := jm.jobs[jobCID.String()]
	return e, ok
}

// scoreBid computes the deterministic selection score for a bid. The
// reputation term is read from the reputation store, not the bid's
// self-advertised value, so an executor cannot inflate its own score.
func scoreBid(w ScoreWeights, reputation *ReputationStore, bid Bid) float64 {
	price := bid.Price
	if price == 0 {
		price = 1
	}
	priceScore := 1000.0 / float64(price)
	repScore := reputation.Get(bid.Executor).Score
	resourceScore := bid.Resources.CPUCores + bid.Resources.MemoryMB/1024
	return w.Price*priceScore + w.Reputation*repScore + w.Resource*resourceScore
}

// selectWinner applies the scoring formula and deterministic tie-break:
// higher score, then higher stored reputation, then lexicographically
// smaller executor DID, then smaller bid JobCID string.
func selectWinner(w ScoreWeights, reputation *ReputationStore, bids []Bid) (Bid, bool) {
	if len(bids) == 0 {
		return Bid{}, false
	}
	type rankedBid struct {
		bid        Bid
		score, rep float64
	}
	sorted := make([]rankedBid, len(bids))
	for i, b := range bids {
		sorted[i] = rankedBid{bid: b, score: scoreBid(w, reputation, b), rep: reputation.Get(b.Executor).Score}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].score != sorted[j].score {
			return sorted[i].score > sorted[j].score
		}
		if sorted[i].rep != sorted[j].rep {
			return sorted[i].rep > sorted[j].rep
		}
		if sorted[i].bid.Executor != sorted[j].bid.Executor {
			return sorted[i].bid.Executor < sorted[j].bid.Executor
		}
		return sorted[i].bid.JobCID.String() < sorted[j].bid.JobCID.String()
	})
	return sorted[0].bid, true
}

// closeBidding selects a winner (if any) and transitions the job to
// Assigned, or to Failed{NoSuitableExecutor} with a full refund.
func (jm *JobManager) closeBidding(jobCID cid.Cid, costMana uint64) {
	entry, ok := jm.lookup(jobCID)
	if !ok {
		return
	}
	entry.mu.Lock()
	if entry.state.State != JobBidding {
		entry.mu.Unlock()
		return
	}
	winner, found := selectWinner(jm.cfg.Weights, jm.reputation, entry.state.Bids)
	if !found {
		entry.state.State = JobFailed
		entry.state.FailReason = "NoSuitableExecutor"
		entry.state.UpdatedAt = jm.now()
		submitter := entry.state.Spec.Submitter
		entry.cancel()
		entry.mu.Unlock()
		jm.settleReservation(jobCID, submitter, 0)
		jobsTerminalTotal.WithLabelValues(string(JobFailed), "NoSuitableExecutor").Inc()
		jm.logger.WithField("job", jobCID.String()).Warn("job manager: no suitable executor")
		return
	}
	assignment := &Assignment{JobCID: jobCID, Executor: winner.Executor, Price: winner.Price, At: jm.now()}
	entry.state.Assignment = assignment
	entry.state.State = JobAssigned
	entry.state.UpdatedAt = jm.now()
	entry.mu.Unlock()

	if err := jm.broadcastSigned(TopicAssignment, ProtocolMessage{Kind: KindAssignment, JobCID: jobCID, Assignment: assignment}); err != nil {
		jm.logger.WithError(err).Warn("job manager: assignment broadcast failed")
	}

	go jm.runExecutionWindow(entry.ctx, jobCID)
}

// runExecutionWindow enforces the per-job execution deadline, failing the
// job with a refund if no receipt lands in time. It exits early, without
// failing the job, if ctx is cancelled first (the job has already been
// cancelled or otherwise settled).
func (jm *JobManager) runExecutionWindow(ctx context.Context, jobCID cid.Cid) {
	window := jm.cfg.ExecutionWindow
	if window <= 0 {
		window = DefaultJobManagerConfig().ExecutionWindow
	}
	timer := time.NewTimer(jm.cfg.AssignAckGrace + window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	entry, ok := jm.lookup(jobCID)
	if !ok {
		return
	}
	entry.mu.Lock()
	if entry.receiptAccepted || (entry.state.State != JobAssigned && entry.state.State != JobExecuting) {
		entry.mu.Unlock()
		return
	}
	executor := entry.state.Assignment.Executor
	submitter := entry.state.Spec.Submitter
	entry.state.State = JobExpired
	entry.state.FailReason = "ExecutionTimeout"
	entry.state.UpdatedAt = jm.now()
	entry.cancel()
	entry.mu.Unlock()

	jm.reputation.RecordExecution(executor, false)
	jm.settleReservation(jobCID, submitter, 0)
	jobsTerminalTotal.WithLabelValues(string(JobExpired), "ExecutionTimeout").Inc()
	jm.logger.WithField("job", jobCID.String()).Warn("job manager: execution window expired")
}

// HandleReceipt verifies and settles an incoming Receipt, enforcing
// at-most-one-execution: only the first valid receipt for a job is
// accepted.
func (jm *JobManager) HandleReceipt(ctx context.Context, receipt Receipt) error {
	const op = "job_manager.HandleReceipt"
	entry, ok := jm.lookup(receipt.JobCID)
	if !ok {
		return errs.New(errs.KindUnknownJob, op, fmt.Errorf("job %s", receipt.JobCID))
	}
	entry.mu.Lock()
	if entry.receiptAccepted {
		entry.mu.Unlock()
		return nil // duplicate, ignored per at-most-one-execution
	}
	if entry.state.State != JobAssigned && entry.state.State != JobExecuting {
		entry.mu.Unlock()
		return errs.New(errs.KindInvalidJobState, op, fmt.Errorf("job is %s", entry.state.State))
	}
	if entry.state.Assignment == nil || entry.state.Assignment.Executor != receipt.Executor {
		entry.mu.Unlock()
		return errs.New(errs.KindMissingOrInvalidReceipt, op, fmt.Errorf("executor mismatch"))
	}
	digest, err := receiptSigningBytes(receipt)
	if err != nil {
		entry.mu.Unlock()
		return jm.rejectReceipt(receipt.JobCID, entry, "receipt encoding failed")
	}
	if err := VerifySignature(receipt.Executor, digest, receipt.Signature); err != nil {
		entry.mu.Unlock()
		return jm.rejectReceipt(receipt.JobCID, entry, "receipt signature invalid")
	}
	if receipt.FinishedAt.Before(receipt.StartedAt) {
		entry.mu.Unlock()
		return jm.rejectReceipt(receipt.JobCID, entry, "invalid timestamps")
	}
	if ok, err := jm.dag.Has(ctx, receipt.OutputCID); err != nil || !ok {
		entry.mu.Unlock()
		return jm.rejectReceipt(receipt.JobCID, entry, "output cid unresolvable")
	}

	entry.receiptAccepted = true
	entry.state.Receipt = &receipt
	entry.state.State = JobCompleted
	entry.state.UpdatedAt = jm.now()
	assignment := entry.state.Assignment
	submitter := entry.state.Spec.Submitter
	entry.cancel()
	entry.mu.Unlock()

	if rb, err := EncodeProtocolMessage(ProtocolMessage{Kind: KindReceipt, JobCID: receipt.JobCID, Receipt: &receipt}); err != nil {
		jm.logger.WithError(err).Warn("job manager: receipt block encoding failed")
	} else if rc, err := jm.dag.Put(ctx, rb); err != nil {
		jm.logger.WithError(err).Warn("job manager: receipt block store failed")
	} else {
		jm.dag.Anchor(rc)
	}
	jm.reputation.RecordExecution(receipt.Executor, true)
	jm.settleReservation(receipt.JobCID, submitter, assignment.Price)
	jobsTerminalTotal.WithLabelValues(string(JobCompleted), "").Inc()

	if err := jm.broadcastSigned(TopicReceipt, ProtocolMessage{Kind: KindReceipt, JobCID: receipt.JobCID, Receipt: &receipt}); err != nil {
		jm.logger.WithError(err).Warn("job manager: receipt relay broadcast failed")
	}
	return nil
}

func (jm *JobManager) rejectReceipt(jobCID cid.Cid, entry *jobEntry, reason string) error {
	entry.mu.Lock()
	executor := DID("")
	submitter := entry.state.Spec.Submitter
	if entry.state.Assignment != nil {
		executor = entry.state.Assignment.Executor
	}
	entry.state.State = JobFailed
	entry.state.FailReason = "MissingOrInvalidReceipt"
	entry.state.UpdatedAt = jm.now()
	entry.cancel()
	entry.mu.Unlock()

	if !executor.Empty() {
		jm.reputation.RecordProofFailure(executor)
	}
	jm.settleReservation(jobCID, submitter, 0)
	jobsTerminalTotal.WithLabelValues(string(JobFailed), "MissingOrInvalidReceipt").Inc()
	return errs.New(errs.KindMissingOrInvalidReceipt, "job_manager.HandleReceipt", fmt.Errorf("%s", reason))
}

// settleReservation applies the job's refund policy. On failure paths
// (executorShare 0) the submitter gets the whole reservation back. Otherwise
// RefundRemainder pays executorShare to the assigned executor and returns
// the rest to the submitter, while RefundNone pays the whole reservation to
// the executor and returns nothing.
func (jm *JobManager) settleReservation(jobCID cid.Cid, submitter DID, executorShare uint64) {
	res, ok := jm.takeReservation(jobCID)
	if !ok {
		return
	}
	entry, _ := jm.lookup(jobCID)
	var executor DID
	if entry != nil {
		entry.mu.Lock()
		if entry.state.Assignment != nil {
			executor = entry.state.Assignment.Executor
		}
		entry.mu.Unlock()
	}

	if jm.cfg.RefundPolicy == RefundNone && executorShare > 0 {
		executorShare = res.amount
	}
	if executorShare > 0 && !executor.Empty() {
		jm.refund(executor, executorShare)
	}

	switch jm.cfg.RefundPolicy {
	case RefundNone:
		if executorShare == 0 {
			jm.refund(submitter, res.amount)
		}
	default: // RefundRemainder
		remainder := res.amount
		if executorShare <= remainder {
			remainder -= executorShare
		} else {
			remainder = 0
		}
		jm.refund(submitter, remainder)
	}
}

// Cancel pre-empts a job's bid or execution window and transitions it to
// the terminal Cancelled state, refunding the submitter's full reservation.
// It is a no-op if the job is already in a terminal state.
func (jm *JobManager) Cancel(jobCID cid.Cid) error {
	entry, ok := jm.lookup(jobCID)
	if !ok {
		return errs.New(errs.KindUnknownJob, "job_manager.Cancel", fmt.Errorf("job %s", jobCID))
	}
	entry.mu.Lock()
	switch entry.state.State {
	case JobCompleted, JobFailed, JobExpired, JobCancelled:
		entry.mu.Unlock()
		return nil
	}
	submitter := entry.state.Spec.Submitter
	entry.state.State = JobCancelled
	entry.state.FailReason = "Cancelled"
	entry.state.UpdatedAt = jm.now()
	entry.cancel()
	entry.mu.Unlock()

	jm.settleReservation(jobCID, submitter, 0)
	jobsTerminalTotal.WithLabelValues(string(JobCancelled), "").Inc()
	jm.logger.WithField("job", jobCID.String()).Info("job manager: job cancelled")
	return nil
}

// Get returns a copy of a job's current state.
func (jm *JobManager) Get(jobCID cid.Cid) (JobState, error) {
	entry, ok := jm.lookup(jobCID)
	if !ok {
		return JobState{}, errs.New(errs.KindUnknownJob, "job_manager.Get", fmt.Errorf("job %s", jobCID))
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, nil
}

// ListenBidsAndReceipts subscribes to the bid and receipt topics on node
// and feeds every verified message into HandleBid/HandleReceipt, running
// until ctx is cancelled. This is the submitter side's half of the overlay
// wiring; the executor side lives in ExecutorAgent.
func (jm *JobManager) ListenBidsAndReceipts(ctx context.Context, node *Node) error {
	bids, err := node.Subscribe(TopicBid)
	if err != nil {
		return fmt.Errorf("job manager: subscribe bids: %w", err)
	}
	receipts, err := node.Subscribe(TopicReceipt)
	if err != nil {
		return fmt.Errorf("job manager: subscribe receipts: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-bids:
				if !ok {
					return
				}
				pm, err := decodeVerifiedTopicMessage(msg.Data)
				if err != nil || pm.Kind != KindBid || pm.Bid == nil {
					continue
				}
				if err := jm.HandleBid(*pm.Bid); err != nil {
					jm.logger.WithError(err).Debug("job manager: bid rejected")
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-receipts:
				if !ok {
					return
				}
				pm, err := decodeVerifiedTopicMessage(msg.Data)
				if err != nil || pm.Kind != KindReceipt || pm.Receipt == nil {
					continue
				}
				if err := jm.HandleReceipt(ctx, *pm.Receipt); err != nil {
					jm.logger.WithError(err).Debug("job manager: receipt rejected")
				}
			}
		}
	}()

	return nil
}
