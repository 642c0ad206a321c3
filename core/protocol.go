package core

// Wire protocol: canonical RLP encoding for messages exchanged over the
// mesh overlay. Grounded on the teacher's use of go-ethereum/rlp for block
// encoding (DecodeBlockRLP in the original ledger) — here applied to
// protocol envelopes instead of blocks, since RLP's fixed-field-order
// encoding gives a deterministic byte representation to sign over without
// needing a canonical JSON serializer.

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ipfs/go-cid"
)

// MessageKind tags the payload carried by a ProtocolMessage.
type MessageKind uint8

const (
	KindJobAnnounce MessageKind = iota + 1
	KindBid
	KindAssignment
	KindReceipt
	KindFederationJoinRequest
	KindFederationJoinResponse
	KindFederationSyncRequest
)

// ErrUnknownMessageKind is returned when decoding an envelope whose Kind
// this node does not recognise.
var ErrUnknownMessageKind = errors.New("protocol: unknown message kind")

// protocolMessageWire is the RLP-encoded form of a ProtocolMessage inside a
// SignedMessage. Only the fields of the message's Kind are set; cid.Cid and DID
// are converted to plain strings/bytes ("wire" representation) since RLP
// does not know how to encode arbitrary external types.
type protocolMessageWire struct {
	Kind      uint8
	JobCID    string
	WasmCID   string
	InputCID  string
	Submitter string
	MaxReward uint64
	CostMana  uint64
	DeadlineUnix int64
	Nonce     uint64

	MaxFuel   uint64
	MaxMemory uint64
	MaxWallMs uint64
	MinMana   uint64

	Executor      string
	Price         uint64
	Reputation    uint64 // fixed-point, x1000
	CPUCoresX1000 uint64 // fixed-point, x1000
	MemoryMBX1000 uint64 // fixed-point, x1000

	OutputCID    string
	FuelUsed     uint64
	ExitCode     int32
	StartedUnix  int64
	FinishedUnix int64
	ReceiptSig   []byte

	FederationID string
	Opaque       []byte
}

// ProtocolMessage is the decoded, domain-typed view of a wire message.
type ProtocolMessage struct {
	Kind       MessageKind
	JobSpec    *JobSpec
	JobCID     cid.Cid
	Bid        *Bid
	Assignment *Assignment
	Receipt    *Receipt
	FederationID string
	Opaque     []byte
}

// EncodeProtocolMessage converts a domain ProtocolMessage to its canonical
// RLP wire bytes.
func EncodeProtocolMessage(m ProtocolMessage) ([]byte, error) {
	w := protocolMessageWire{Kind: uint8(m.Kind), FederationID: m.FederationID, Opaque: m.Opaque}

	switch m.Kind {
	case KindJobAnnounce:
		if m.JobSpec == nil {
			return nil, errors.New("protocol: job announce missing spec")
		}
		w.JobCID = m.JobCID.String()
		w.WasmCID = m.JobSpec.WasmCID.String()
		w.InputCID = m.JobSpec.InputCID.String()
		w.Submitter = string(m.JobSpec.Submitter)
		w.MaxReward = m.JobSpec.MaxReward
		w.CostMana = m.JobSpec.CostMana
		w.DeadlineUnix = m.JobSpec.Deadline.Unix()
		w.Nonce = m.JobSpec.Nonce
		w.MaxFuel = m.JobSpec.Limits.MaxFuel
		w.MaxMemory = m.JobSpec.Limits.MaxMemory
		w.MaxWallMs = uint64(m.JobSpec.Limits.MaxWall / time.Millisecond)
		w.MinMana = m.JobSpec.Limits.MinMana
	case KindBid:
		if m.Bid == nil {
			return nil, errors.New("protocol: bid message missing bid")
		}
		w.JobCID = m.Bid.JobCID.String()
		w.Executor = string(m.Bid.Executor)
		w.Price = m.Bid.Price
		w.Reputation = uint64(m.Bid.Reputation * 1000)
		w.CPUCoresX1000 = uint64(m.Bid.Resources.CPUCores * 1000)
		w.MemoryMBX1000 = uint64(m.Bid.Resources.MemoryMB * 1000)
	case KindAssignment:
		if m.Assignment == nil {
			return nil, errors.New("protocol: assignment message missing assignment")
		}
		w.JobCID = m.Assignment.JobCID.String()
		w.Executor = string(m.Assignment.Executor)
		w.Price = m.Assignment.Price
	case KindReceipt:
		if m.Receipt == nil {
			return nil, errors.New("protocol: receipt message missing receipt")
		}
		w.JobCID = m.Receipt.JobCID.String()
		w.Executor = string(m.Receipt.Executor)
		w.OutputCID = m.Receipt.OutputCID.String()
		w.FuelUsed = m.Receipt.FuelUsed
		w.ExitCode = m.Receipt.ExitCode
		w.StartedUnix = m.Receipt.StartedAt.Unix()
		w.FinishedUnix = m.Receipt.FinishedAt.Unix()
		w.ReceiptSig = m.Receipt.Signature
	case KindFederationJoinRequest, KindFederationJoinResponse, KindFederationSyncRequest:
		// inert reserved variants: carried as opaque bytes only, no core
		// federation logic is implemented.
	default:
		return nil, ErrUnknownMessageKind
	}

	return rlp.EncodeToBytes(&w)
}

// DecodeProtocolMessage parses RLP wire bytes back into a domain
// ProtocolMessage, rejecting kinds this node does not recognise.
func DecodeProtocolMessage(data []byte) (ProtocolMessage, error) {
	var w protocolMessageWire
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return ProtocolMessage{}, fmt.Errorf("protocol: decode: %w", err)
	}

	m := ProtocolMessage{Kind: MessageKind(w.Kind), FederationID: w.FederationID, Opaque: w.Opaque}

	switch m.Kind {
	case KindJobAnnounce:
		jobCID, err := cid.Decode(w.JobCID)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("protocol: job cid: %w", err)
		}
		wasmCID, err := cid.Decode(w.WasmCID)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("protocol: wasm cid: %w", err)
		}
		inputCID, err := cid.Decode(w.InputCID)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("protocol: input cid: %w", err)
		}
		m.JobCID = jobCID
		m.JobSpec = &JobSpec{
			Submitter: DID(w.Submitter),
			WasmCID:   wasmCID,
			InputCID:  inputCID,
			MaxReward: w.MaxReward,
			CostMana:  w.CostMana,
			Deadline:  time.Unix(w.DeadlineUnix, 0).UTC(),
			Nonce:     w.Nonce,
			Limits: ResourceLimits{
				MaxFuel:   w.MaxFuel,
				MaxMemory: w.MaxMemory,
				MaxWall:   time.Duration(w.MaxWallMs) * time.Millisecond,
				MinMana:   w.MinMana,
			},
		}
	case KindBid:
		jobCID, err := cid.Decode(w.JobCID)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("protocol: job cid: %w", err)
		}
		m.JobCID = jobCID
		m.Bid = &Bid{
			JobCID:     jobCID,
			Executor:   DID(w.Executor),
			Price:      w.Price,
			Reputation: float64(w.Reputation) / 1000,
			Resources: BidResources{
				CPUCores: float64(w.CPUCoresX1000) / 1000,
				MemoryMB: float64(w.MemoryMBX1000) / 1000,
			},
		}
	case KindAssignment:
		jobCID, err := cid.Decode(w.JobCID)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("protocol: job cid: %w", err)
		}
		m.JobCID = jobCID
		m.Assignment = &Assignment{JobCID: jobCID, Executor: DID(w.Executor), Price: w.Price}
	case KindReceipt:
		jobCID, err := cid.Decode(w.JobCID)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("protocol: job cid: %w", err)
		}
		outputCID, err := cid.Decode(w.OutputCID)
		if err != nil {
			return ProtocolMessage{}, fmt.Errorf("protocol: output cid: %w", err)
		}
		m.JobCID = jobCID
		m.Receipt = &Receipt{
			JobCID:     jobCID,
			Executor:   DID(w.Executor),
			OutputCID:  outputCID,
			FuelUsed:   w.FuelUsed,
			ExitCode:   w.ExitCode,
			StartedAt:  time.Unix(w.StartedUnix, 0).UTC(),
			FinishedAt: time.Unix(w.FinishedUnix, 0).UTC(),
			Signature:  w.ReceiptSig,
		}
	case KindFederationJoinRequest, KindFederationJoinResponse, KindFederationSyncRequest:
		// no structured fields beyond Opaque; cross-federation routing is
		// left unimplemented in core.
	default:
		return ProtocolMessage{}, ErrUnknownMessageKind
	}

	return m, nil
}

// receiptDigestWire is the RLP encoding a receipt's own signature is computed
// over. It deliberately excludes Signature itself, and is kept separate from
// protocolMessageWire so a receipt's authenticity does not depend on whoever
// relayed the gossip envelope it travels in — only on the executor named in
// the receipt.
type receiptDigestWire struct {
	JobCID       string
	Executor     string
	OutputCID    string
	FuelUsed     uint64
	ExitCode     int32
	StartedUnix  int64
	FinishedUnix int64
}

// receiptSigningBytes returns the canonical bytes an executor signs (and a
// verifier re-derives) to authenticate a Receipt independent of transport.
func receiptSigningBytes(r Receipt) ([]byte, error) {
	w := receiptDigestWire{
		JobCID:       r.JobCID.String(),
		Executor:     string(r.Executor),
		OutputCID:    r.OutputCID.String(),
		FuelUsed:     r.FuelUsed,
		ExitCode:     r.ExitCode,
		StartedUnix:  r.StartedAt.Unix(),
		FinishedUnix: r.FinishedAt.Unix(),
	}
	return rlp.EncodeToBytes(&w)
}

// SignedMessage wraps a protocol envelope with the sender's DID and a
// detached ed25519 signature over the RLP-encoded payload.
type SignedMessage struct {
	Payload   []byte
	Sender    DID
	Signature []byte
}

// Sign produces a SignedMessage for m, signed by wallet at (account, index).
func Sign(m ProtocolMessage, sender DID, w *HDWallet, account, index uint32) (*SignedMessage, error) {
	payload, err := EncodeProtocolMessage(m)
	if err != nil {
		return nil, err
	}
	sig, err := w.Sign(account, index, payload)
	if err != nil {
		return nil, err
	}
	return &SignedMessage{Payload: payload, Sender: sender, Signature: sig}, nil
}

// Verify checks the signature and decodes the inner message.
func (sm *SignedMessage) Verify() (ProtocolMessage, error) {
	if err := VerifySignature(sm.Sender, sm.Payload, sm.Signature); err != nil {
		return ProtocolMessage{}, err
	}
	return DecodeProtocolMessage(sm.Payload)
}

// EncodeSignedMessage RLP-encodes a SignedMessage for transport over the
// overlay (gossip publish or direct stream write).
func EncodeSignedMessage(sm *SignedMessage) ([]byte, error) {
	return rlp.EncodeToBytes(sm)
}

// DecodeSignedMessage parses transport bytes back into a SignedMessage,
// without verifying the signature (callers must call Verify before
// trusting the result).
func DecodeSignedMessage(data []byte) (*SignedMessage, error) {
	var sm SignedMessage
	if err := rlp.DecodeBytes(data, &sm); err != nil {
		return nil, fmt.Errorf("protocol: decode signed message: %w", err)
	}
	return &sm, nil
}
