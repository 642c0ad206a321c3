package core

// Executor Agent: the two cooperative background tasks an executor node
// runs — Bidder (decides whether to bid on announced jobs) and Executor
// (runs assigned jobs in the sandbox and emits receipts). Grounded on
// network.go's Subscribe-returns-a-channel pattern, generalized from a
// single consumer loop to two independent goroutines over bounded,
// backpressured channels.

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

// decodeVerifiedTopicMessage decodes a gossip payload as a SignedMessage
// and verifies it before returning the inner ProtocolMessage, so a bidder
// or executor never acts on an unauthenticated announcement/assignment.
func decodeVerifiedTopicMessage(data []byte) (ProtocolMessage, error) {
	sm, err := DecodeSignedMessage(data)
	if err != nil {
		return ProtocolMessage{}, err
	}
	return sm.Verify()
}

// ExecutorAgentConfig tunes a node's participation in job bidding.
type ExecutorAgentConfig struct {
	Self             DID
	WalletAccount    uint32
	WalletIndex      uint32
	CPUCores         float64
	MemoryMB         float64
	SupportedKinds   map[string]bool // empty/nil = accept every kind
	QueueDepth       int
	PriceFloor       uint64
}

// ExecutorAgent runs the Bidder and Executor loops for one node.
type ExecutorAgent struct {
	cfg        ExecutorAgentConfig
	node       *Node
	dag        *Store
	mana       *ManaLedger
	reputation *ReputationStore
	sandbox    *Sandbox
	wallet     *HDWallet
	clock      TimeProvider
	logger     *logrus.Logger
}

// NewExecutorAgent wires an ExecutorAgent over its collaborators.
func NewExecutorAgent(cfg ExecutorAgentConfig, node *Node, dag *Store, mana *ManaLedger, reputation *ReputationStore, sandbox *Sandbox, wallet *HDWallet, clock TimeProvider, lg *logrus.Logger) *ExecutorAgent {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &ExecutorAgent{
		cfg:        cfg,
		node:       node,
		dag:        dag,
		mana:       mana,
		reputation: reputation,
		sandbox:    sandbox,
		wallet:     wallet,
		clock:      clock,
		logger:     lg,
	}
}

func (a *ExecutorAgent) now() time.Time {
	if a.clock == nil {
		return time.Now()
	}
	return a.clock.Now()
}

// Start launches the Bidder and Executor goroutines; they run until ctx is
// cancelled.
func (a *ExecutorAgent) Start(ctx context.Context) error {
	announceCh, err := a.node.Subscribe(TopicJobAnnounce)
	if err != nil {
		return fmt.Errorf("executor agent: subscribe job announce: %w", err)
	}
	assignCh, err := a.node.Subscribe(TopicAssignment)
	if err != nil {
		return fmt.Errorf("executor agent: subscribe assignment: %w", err)
	}

	go a.runBidder(ctx, announceCh)
	go a.runExecutor(ctx, assignCh)
	return nil
}

// runBidder consumes job announcements and bids on the ones this node
// should and can serve.
func (a *ExecutorAgent) runBidder(ctx context.Context, announcements <-chan Message) {
	queue := make(chan Message, a.cfg.QueueDepth)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-announcements:
				if !ok {
					close(queue)
					return
				}
				select {
				case queue <- msg:
				default:
					a.logger.Warn("executor agent: bidder queue full, dropping announcement")
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-queue:
			if !ok {
				return
			}
			a.considerBid(ctx, msg)
		}
	}
}

func (a *ExecutorAgent) considerBid(ctx context.Context, msg Message) {
	pm, err := decodeVerifiedTopicMessage(msg.Data)
	if err != nil || pm.Kind != KindJobAnnounce || pm.JobSpec == nil {
		return
	}
	spec := *pm.JobSpec
	if spec.Submitter == a.cfg.Self {
		return
	}
	if len(a.cfg.SupportedKinds) > 0 && !a.cfg.SupportedKinds[spec.WasmCID.String()] {
		return
	}
	account := a.mana.Get(a.cfg.Self)
	if account.Balance < spec.Limits.MinMana {
		return
	}
	if a.cfg.CPUCores <= 0 || a.cfg.MemoryMB < float64(spec.Limits.MaxMemory)/(1<<20) {
		return
	}

	price := a.advertisePrice(spec)
	rep := a.reputation.Get(a.cfg.Self)
	bid := Bid{
		JobCID:     pm.JobCID,
		Executor:   a.cfg.Self,
		Price:      price,
		Reputation: rep.Score,
		Resources:  BidResources{CPUCores: a.cfg.CPUCores, MemoryMB: a.cfg.MemoryMB},
		SubmitAt:   a.now(),
	}

	signed, err := Sign(ProtocolMessage{Kind: KindBid, JobCID: pm.JobCID, Bid: &bid}, a.cfg.Self, a.wallet, a.cfg.WalletAccount, a.cfg.WalletIndex)
	if err != nil {
		a.logger.WithError(err).Warn("executor agent: sign bid failed")
		return
	}
	data, err := EncodeSignedMessage(signed)
	if err != nil {
		a.logger.WithError(err).Warn("executor agent: encode bid failed")
		return
	}
	if err := a.node.Broadcast(TopicBid, data); err != nil {
		a.logger.WithError(err).Warn("executor agent: broadcast bid failed")
	}
}

// advertisePrice derives a bid price from mana pressure (the less spare
// capacity this node has, the higher it prices its work) and reputation
// (a higher-reputation node can afford to bid closer to the floor).
func (a *ExecutorAgent) advertisePrice(spec JobSpec) uint64 {
	account := a.mana.Get(a.cfg.Self)
	pressure := 1.0
	if account.Capacity > 0 {
		pressure = 1.0 + float64(account.Capacity-account.Balance)/float64(account.Capacity)
	}
	rep := a.reputation.Get(a.cfg.Self)
	discount := 1.0 / (1.0 + rep.Score/100.0)
	base := float64(spec.Limits.MinMana)
	if base < float64(a.cfg.PriceFloor) {
		base = float64(a.cfg.PriceFloor)
	}
	price := uint64(base * pressure * discount)
	if price < a.cfg.PriceFloor {
		price = a.cfg.PriceFloor
	}
	if price == 0 {
		price = 1
	}
	return price
}

// runExecutor consumes assignment notifications addressed to this node and
// runs the winning jobs.
func (a *ExecutorAgent) runExecutor(ctx context.Context, assignments <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-assignments:
			if !ok {
				return
			}
			a.handleAssignment(ctx, msg)
		}
	}
}

func (a *ExecutorAgent) handleAssignment(ctx context.Context, msg Message) {
	pm, err := decodeVerifiedTopicMessage(msg.Data)
	if err != nil || pm.Kind != KindAssignment || pm.Assignment == nil {
		return
	}
	if pm.Assignment.Executor != a.cfg.Self {
		return
	}
	a.executeJob(ctx, pm.Assignment.JobCID, *pm.Assignment)
}

func (a *ExecutorAgent) executeJob(ctx context.Context, jobCID cid.Cid, assignment Assignment) {
	manifest, err := a.dag.Get(ctx, jobCID)
	if err != nil {
		a.logger.WithError(err).WithField("job", jobCID.String()).Warn("executor agent: manifest unavailable")
		return
	}

	wasmCID, limits, err := decodeJobManifestForExecution(manifest)
	if err != nil {
		a.logger.WithError(err).Warn("executor agent: decode manifest failed")
		return
	}
	wasmCode, err := a.dag.Get(ctx, wasmCID)
	if err != nil {
		a.logger.WithError(err).WithField("wasm", wasmCID.String()).Warn("executor agent: wasm code unavailable")
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if limits.MaxWall > 0 {
		runCtx, cancel = context.WithTimeout(ctx, limits.MaxWall)
		defer cancel()
	}

	started := a.now()
	result, err := a.sandbox.Run(runCtx, wasmCode, jobCID.String(), limits)
	finished := a.now()
	if err != nil {
		a.logger.WithError(err).WithField("job", jobCID.String()).Warn("executor agent: sandbox execution error")
		return
	}

	var outputCID cid.Cid
	if result.Success {
		outputCID, err = a.dag.Put(ctx, result.OutputCID)
		if err != nil {
			a.logger.WithError(err).Warn("executor agent: put output failed")
			return
		}
	}

	exitCode := int32(0)
	if !result.Success {
		exitCode = 1
	}
	receipt := Receipt{
		JobCID:     jobCID,
		Executor:   a.cfg.Self,
		OutputCID:  outputCID,
		FuelUsed:   result.FuelUsed,
		ExitCode:   exitCode,
		StartedAt:  started,
		FinishedAt: finished,
	}

	// The receipt carries its own signature over its content, independent of
	// whichever peer ends up relaying the gossip envelope, so a verifier can
	// authenticate the executor without trusting the envelope's signer.
	digest, err := receiptSigningBytes(receipt)
	if err != nil {
		a.logger.WithError(err).Warn("executor agent: receipt digest failed")
		return
	}
	receipt.Signature, err = a.wallet.Sign(a.cfg.WalletAccount, a.cfg.WalletIndex, digest)
	if err != nil {
		a.logger.WithError(err).Warn("executor agent: sign receipt failed")
		return
	}

	signed, err := Sign(ProtocolMessage{Kind: KindReceipt, JobCID: jobCID, Receipt: &receipt}, a.cfg.Self, a.wallet, a.cfg.WalletAccount, a.cfg.WalletIndex)
	if err != nil {
		a.logger.WithError(err).Warn("executor agent: sign envelope failed")
		return
	}
	data, err := EncodeSignedMessage(signed)
	if err != nil {
		a.logger.WithError(err).Warn("executor agent: encode receipt failed")
		return
	}
	if err := a.node.Broadcast(TopicReceipt, data); err != nil {
		a.logger.WithError(err).Warn("executor agent: broadcast receipt failed")
	}
}

// decodeJobManifestForExecution re-derives the wasm CID and resource
// limits from a job manifest block without needing the full JobSpec (the
// submitter's DID and deadline are not required to run the job).
func decodeJobManifestForExecution(manifest []byte) (cid.Cid, ResourceLimits, error) {
	var w jobManifestWire
	if err := rlp.DecodeBytes(manifest, &w); err != nil {
		return cid.Undef, ResourceLimits{}, fmt.Errorf("executor agent: decode manifest: %w", err)
	}
	wasmCID, err := cid.Decode(w.WasmCID)
	if err != nil {
		return cid.Undef, ResourceLimits{}, fmt.Errorf("executor agent: wasm cid: %w", err)
	}
	limits := ResourceLimits{
		MaxFuel:   w.MaxFuel,
		MaxMemory: w.MaxMemory,
		MaxWall:   time.Duration(w.MaxWallMs) * time.Millisecond,
		MinMana:   w.MinMana,
	}
	return wasmCID, limits, nil
}
