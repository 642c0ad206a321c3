package core

// types.go – centralised struct and interface definitions referenced across
// the mesh engine. Kept as a single file, in the style of the original
// common_structs.go, to avoid import cycles between the job, ledger,
// reputation and overlay subsystems.
// -----------------------------------------------------------------------------

import (
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	host "github.com/libp2p/go-libp2p/core/host"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

//---------------------------------------------------------------------
// Identity
//---------------------------------------------------------------------

// DID is a did:key identifier string, e.g. "did:key:z6Mk...".
type DID string

func (d DID) String() string { return string(d) }

// Empty reports whether the DID has not been set.
func (d DID) Empty() bool { return d == "" }

//---------------------------------------------------------------------
// Content-addressed DAG
//---------------------------------------------------------------------

// Block is one content-addressed node in the job DAG: a job spec, a bid,
// a receipt, or an arbitrary data blob referenced by CID.
type Block struct {
	CID   cid.Cid `json:"cid"`
	Data  []byte  `json:"data"`
	Links []cid.Cid `json:"links,omitempty"`
}

//---------------------------------------------------------------------
// Mesh job lifecycle
//---------------------------------------------------------------------

// JobStateKind enumerates the terminal and intermediate states a job moves
// through from submission to completion.
type JobStateKind string

const (
	JobPending   JobStateKind = "pending"
	JobBidding   JobStateKind = "bidding"
	JobAssigned  JobStateKind = "assigned"
	JobExecuting JobStateKind = "executing"
	JobCompleted JobStateKind = "completed"
	JobFailed    JobStateKind = "failed"
	JobExpired   JobStateKind = "expired"
	JobCancelled JobStateKind = "cancelled"
)

// ResourceLimits bounds what an executor must provide to run a job.
type ResourceLimits struct {
	MaxFuel    uint64        `json:"max_fuel"`
	MaxMemory  uint64        `json:"max_memory_bytes"`
	MaxWall    time.Duration `json:"max_wall"`
	MinMana    uint64        `json:"min_mana"`
}

// JobSpec is the immutable content a submitter publishes to the DAG; its
// CID is the job's canonical identifier.
type JobSpec struct {
	Submitter  DID            `json:"submitter"`
	WasmCID    cid.Cid        `json:"wasm_cid"`
	InputCID   cid.Cid        `json:"input_cid"`
	Limits     ResourceLimits `json:"limits"`
	MaxReward  uint64         `json:"max_reward"`
	CostMana   uint64         `json:"cost_mana"`
	Deadline   time.Time      `json:"deadline"`
	Nonce      uint64         `json:"nonce"`
}

// BidResources is an executor's declared capacity, used by the resource term
// of the selection score (resource_score = cpu_cores + memory_mb/1024).
type BidResources struct {
	CPUCores  float64 `json:"cpu_cores"`
	MemoryMB  float64 `json:"memory_mb"`
}

// Bid is an executor's offer to run a job.
type Bid struct {
	JobCID     cid.Cid      `json:"job_cid"`
	Executor   DID          `json:"executor"`
	Price      uint64       `json:"price"`
	Reputation float64      `json:"reputation"`
	Resources  BidResources `json:"resources"`
	SubmitAt   time.Time    `json:"submit_at"`
}

// Assignment records the winning bid for a job.
type Assignment struct {
	JobCID   cid.Cid   `json:"job_cid"`
	Executor DID       `json:"executor"`
	Price    uint64    `json:"price"`
	At       time.Time `json:"at"`
}

// Receipt is the signed attestation an executor publishes on completion.
type Receipt struct {
	JobCID     cid.Cid   `json:"job_cid"`
	Executor   DID       `json:"executor"`
	OutputCID  cid.Cid   `json:"output_cid"`
	FuelUsed   uint64    `json:"fuel_used"`
	ExitCode   int32     `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Signature  []byte    `json:"signature"`
}

// JobState is the manager's mutable view of a job as it moves through the
// lifecycle.
type JobState struct {
	Spec       JobSpec
	State      JobStateKind
	Bids       []Bid
	Assignment *Assignment
	Receipt    *Receipt
	FailReason string
	UpdatedAt  time.Time
}

//---------------------------------------------------------------------
// Mana ledger
//---------------------------------------------------------------------

// ContribMetrics feeds the mana regeneration formula: a DID's observed
// contribution to the mesh, used to scale how fast its capacity refills.
type ContribMetrics struct {
	ReceiptsServed   uint64  `json:"receipts_served"`
	Reliability      float64 `json:"reliability"`
	DemandPressure   float64 `json:"demand_pressure"`
}

// ManaAccount tracks one DID's regenerating-credit balance.
type ManaAccount struct {
	Owner      DID       `json:"owner"`
	Balance    uint64    `json:"balance"`
	Capacity   uint64    `json:"capacity"`
	LastRegen  time.Time `json:"last_regen"`
	Overflows  uint64    `json:"overflows"`
}

//---------------------------------------------------------------------
// Reputation
//---------------------------------------------------------------------

// ReputationRecord is a DID's monotone, clamped-at-zero scalar score.
type ReputationRecord struct {
	Owner       DID     `json:"owner"`
	Score       float64 `json:"score"`
	Completed   uint64  `json:"completed"`
	Failed      uint64  `json:"failed"`
	LastUpdated time.Time `json:"last_updated"`
}

//---------------------------------------------------------------------
// Overlay / P2P
//---------------------------------------------------------------------

type NodeID string

type Peer struct {
	ID      NodeID
	DID     DID
	Addr    string
	Latency time.Duration
}

type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// OverlayConfig configures the libp2p host wrapper.
type OverlayConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
	EnableMDNS     bool
}

type Node struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	cfg       OverlayConfig
}

// InboundMsg is a raw request/response payload received on the mesh
// protocol stream, prior to envelope verification.
type InboundMsg struct {
	PeerID  string `json:"peer_id"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
	Ts      int64  `json:"ts"`
}

//---------------------------------------------------------------------
// Capability interfaces
//---------------------------------------------------------------------

// TimeProvider abstracts wall-clock access so job-manager and mana-ledger
// logic stays deterministic under test.
type TimeProvider interface {
	Now() time.Time
}

// RngProvider abstracts randomness; the sandbox's host_random call draws
// from it. Executor selection is deterministic and does not use it.
type RngProvider interface {
	Float64() float64
	Int63n(n int64) int64
}

// Broadcaster is the minimal publish capability the job manager needs from
// the overlay, kept narrow so it can be mocked in tests.
type Broadcaster interface {
	Broadcast(topic string, data []byte) error
}

func (d DID) valid() error {
	if len(d) == 0 {
		return fmt.Errorf("empty did")
	}
	return nil
}
