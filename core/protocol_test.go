package core

import (
	"testing"
	"time"

	"github.com/ipfs/go-cid"
)

func mustSumCID(t *testing.T, data string) cid.Cid {
	t.Helper()
	c, err := SumCID([]byte(data))
	if err != nil {
		t.Fatalf("SumCID: %v", err)
	}
	return c
}

func TestEncodeDecodeProtocolMessageJobAnnounce(t *testing.T) {
	wasmCID := mustSumCID(t, "wasm")
	inputCID := mustSumCID(t, "input")
	jobCID := mustSumCID(t, "job")
	deadline := time.Unix(1_700_000_000, 0).UTC()

	msg := ProtocolMessage{
		Kind:   KindJobAnnounce,
		JobCID: jobCID,
		JobSpec: &JobSpec{
			Submitter: DID("did:key:zsubmitter"),
			WasmCID:   wasmCID,
			InputCID:  inputCID,
			MaxReward: 500,
			CostMana:  250,
			Deadline:  deadline,
			Nonce:     7,
			Limits: ResourceLimits{
				MaxFuel:   100_000,
				MaxMemory: 1 << 20,
				MaxWall:   2 * time.Second,
				MinMana:   10,
			},
		},
	}

	data, err := EncodeProtocolMessage(msg)
	if err != nil {
		t.Fatalf("EncodeProtocolMessage: %v", err)
	}
	got, err := DecodeProtocolMessage(data)
	if err != nil {
		t.Fatalf("DecodeProtocolMessage: %v", err)
	}
	if got.Kind != KindJobAnnounce {
		t.Fatalf("expected KindJobAnnounce, got %v", got.Kind)
	}
	if got.JobCID != jobCID {
		t.Fatalf("job cid mismatch: got %s want %s", got.JobCID, jobCID)
	}
	if got.JobSpec == nil {
		t.Fatalf("expected decoded job spec")
	}
	if got.JobSpec.Submitter != msg.JobSpec.Submitter {
		t.Fatalf("submitter mismatch: got %s want %s", got.JobSpec.Submitter, msg.JobSpec.Submitter)
	}
	if got.JobSpec.WasmCID != wasmCID || got.JobSpec.InputCID != inputCID {
		t.Fatalf("cid mismatch in decoded spec")
	}
	if got.JobSpec.MaxReward != 500 || got.JobSpec.Nonce != 7 {
		t.Fatalf("scalar field mismatch: %+v", got.JobSpec)
	}
	if !got.JobSpec.Deadline.Equal(deadline) {
		t.Fatalf("deadline mismatch: got %v want %v", got.JobSpec.Deadline, deadline)
	}
	if got.JobSpec.CostMana != 250 {
		t.Fatalf("cost mana mismatch: got %d want 250", got.JobSpec.CostMana)
	}
	if got.JobSpec.Limits != (ResourceLimits{MaxFuel: 100_000, MaxMemory: 1 << 20, MaxWall: 2 * time.Second, MinMana: 10}) {
		t.Fatalf("limits mismatch: %+v", got.JobSpec.Limits)
	}
}

func TestEncodeDecodeProtocolMessageBid(t *testing.T) {
	jobCID := mustSumCID(t, "job-for-bid")
	msg := ProtocolMessage{
		Kind: KindBid,
		Bid: &Bid{
			JobCID:     jobCID,
			Executor:   DID("did:key:zexecutor"),
			Price:      42,
			Reputation: 7.5,
			Resources:  BidResources{CPUCores: 4, MemoryMB: 2048},
		},
	}

	data, err := EncodeProtocolMessage(msg)
	if err != nil {
		t.Fatalf("EncodeProtocolMessage: %v", err)
	}
	got, err := DecodeProtocolMessage(data)
	if err != nil {
		t.Fatalf("DecodeProtocolMessage: %v", err)
	}
	if got.Bid == nil {
		t.Fatalf("expected decoded bid")
	}
	if got.Bid.JobCID != jobCID || got.Bid.Executor != msg.Bid.Executor || got.Bid.Price != 42 {
		t.Fatalf("bid field mismatch: %+v", got.Bid)
	}
	if got.Bid.Reputation != 7.5 {
		t.Fatalf("expected reputation to round-trip through the fixed-point encoding, got %v", got.Bid.Reputation)
	}
	if got.Bid.Resources != (BidResources{CPUCores: 4, MemoryMB: 2048}) {
		t.Fatalf("expected resources to round-trip, got %+v", got.Bid.Resources)
	}
}

func TestEncodeDecodeProtocolMessageAssignment(t *testing.T) {
	jobCID := mustSumCID(t, "job-for-assignment")
	msg := ProtocolMessage{
		Kind: KindAssignment,
		Assignment: &Assignment{
			JobCID:   jobCID,
			Executor: DID("did:key:zexecutor"),
			Price:    99,
		},
	}
	data, err := EncodeProtocolMessage(msg)
	if err != nil {
		t.Fatalf("EncodeProtocolMessage: %v", err)
	}
	got, err := DecodeProtocolMessage(data)
	if err != nil {
		t.Fatalf("DecodeProtocolMessage: %v", err)
	}
	if got.Assignment == nil || got.Assignment.Price != 99 || got.Assignment.Executor != msg.Assignment.Executor {
		t.Fatalf("assignment mismatch: %+v", got.Assignment)
	}
}

func TestEncodeDecodeProtocolMessageReceipt(t *testing.T) {
	jobCID := mustSumCID(t, "job-for-receipt")
	outputCID := mustSumCID(t, "receipt-output")
	started := time.Unix(1_700_000_000, 0).UTC()
	finished := started.Add(5 * time.Second)

	msg := ProtocolMessage{
		Kind: KindReceipt,
		Receipt: &Receipt{
			JobCID:     jobCID,
			Executor:   DID("did:key:zexecutor"),
			OutputCID:  outputCID,
			FuelUsed:   123,
			ExitCode:   0,
			StartedAt:  started,
			FinishedAt: finished,
			Signature:  []byte("fake-signature-bytes"),
		},
	}
	data, err := EncodeProtocolMessage(msg)
	if err != nil {
		t.Fatalf("EncodeProtocolMessage: %v", err)
	}
	got, err := DecodeProtocolMessage(data)
	if err != nil {
		t.Fatalf("DecodeProtocolMessage: %v", err)
	}
	if got.Receipt == nil {
		t.Fatalf("expected decoded receipt")
	}
	if got.Receipt.OutputCID != outputCID || got.Receipt.FuelUsed != 123 {
		t.Fatalf("receipt field mismatch: %+v", got.Receipt)
	}
	if !got.Receipt.StartedAt.Equal(started) || !got.Receipt.FinishedAt.Equal(finished) {
		t.Fatalf("receipt timestamps mismatch: %+v", got.Receipt)
	}
	if string(got.Receipt.Signature) != "fake-signature-bytes" {
		t.Fatalf("receipt signature mismatch: %+v", got.Receipt.Signature)
	}
}

func TestReceiptSigningBytesExcludesSignature(t *testing.T) {
	jobCID := mustSumCID(t, "job-for-receipt-sig")
	outputCID := mustSumCID(t, "receipt-output-sig")
	base := Receipt{
		JobCID:    jobCID,
		Executor:  DID("did:key:zexecutor"),
		OutputCID: outputCID,
		FuelUsed:  1,
		StartedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	withSig := base
	withSig.Signature = []byte("sig-a")
	other := base
	other.Signature = []byte("sig-b")

	a, err := receiptSigningBytes(withSig)
	if err != nil {
		t.Fatalf("receiptSigningBytes: %v", err)
	}
	b, err := receiptSigningBytes(other)
	if err != nil {
		t.Fatalf("receiptSigningBytes: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected signing bytes to be independent of Signature field")
	}
}

func TestEncodeProtocolMessageRejectsUnknownKind(t *testing.T) {
	msg := ProtocolMessage{Kind: MessageKind(255)}
	if _, err := EncodeProtocolMessage(msg); err != ErrUnknownMessageKind {
		t.Fatalf("expected ErrUnknownMessageKind, got %v", err)
	}
}

func TestProtocolMessageFederationKindsCarryOnlyOpaqueBytes(t *testing.T) {
	msg := ProtocolMessage{
		Kind:         KindFederationJoinRequest,
		FederationID: "fed-a",
		Opaque:       []byte("federation handshake"),
	}
	data, err := EncodeProtocolMessage(msg)
	if err != nil {
		t.Fatalf("EncodeProtocolMessage: %v", err)
	}
	got, err := DecodeProtocolMessage(data)
	if err != nil {
		t.Fatalf("DecodeProtocolMessage: %v", err)
	}
	if got.Kind != KindFederationJoinRequest || got.FederationID != "fed-a" || string(got.Opaque) != "federation handshake" {
		t.Fatalf("federation envelope mismatch: %+v", got)
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	w, _, err := NewRandomWallet(128)
	if err != nil {
		t.Fatalf("NewRandomWallet: %v", err)
	}
	sender, err := w.NewDID(0, 0)
	if err != nil {
		t.Fatalf("NewDID: %v", err)
	}

	jobCID := mustSumCID(t, "signed-job")
	msg := ProtocolMessage{
		Kind: KindAssignment,
		Assignment: &Assignment{JobCID: jobCID, Executor: sender, Price: 10},
	}

	sm, err := Sign(msg, sender, w, 0, 0)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := sm.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Assignment == nil || got.Assignment.Price != 10 {
		t.Fatalf("verified message mismatch: %+v", got.Assignment)
	}
}

func TestSignedMessageVerifyRejectsTamperedPayload(t *testing.T) {
	w, _, err := NewRandomWallet(128)
	if err != nil {
		t.Fatalf("NewRandomWallet: %v", err)
	}
	sender, err := w.NewDID(0, 0)
	if err != nil {
		t.Fatalf("NewDID: %v", err)
	}

	jobCID := mustSumCID(t, "tamper-job")
	msg := ProtocolMessage{Kind: KindAssignment, Assignment: &Assignment{JobCID: jobCID, Executor: sender, Price: 10}}
	sm, err := Sign(msg, sender, w, 0, 0)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sm.Payload[0] ^= 0xff
	if _, err := sm.Verify(); err == nil {
		t.Fatalf("expected Verify to reject a tampered payload")
	}
}

func TestEncodeDecodeSignedMessageRoundTrip(t *testing.T) {
	w, _, err := NewRandomWallet(128)
	if err != nil {
		t.Fatalf("NewRandomWallet: %v", err)
	}
	sender, err := w.NewDID(0, 0)
	if err != nil {
		t.Fatalf("NewDID: %v", err)
	}

	jobCID := mustSumCID(t, "transport-job")
	msg := ProtocolMessage{Kind: KindAssignment, Assignment: &Assignment{JobCID: jobCID, Executor: sender, Price: 5}}
	sm, err := Sign(msg, sender, w, 0, 0)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	wire, err := EncodeSignedMessage(sm)
	if err != nil {
		t.Fatalf("EncodeSignedMessage: %v", err)
	}
	decoded, err := DecodeSignedMessage(wire)
	if err != nil {
		t.Fatalf("DecodeSignedMessage: %v", err)
	}
	if decoded.Sender != sender {
		t.Fatalf("sender mismatch: got %s want %s", decoded.Sender, sender)
	}
	got, err := decoded.Verify()
	if err != nil {
		t.Fatalf("Verify on decoded message: %v", err)
	}
	if got.Assignment == nil || got.Assignment.Price != 5 {
		t.Fatalf("decoded+verified message mismatch: %+v", got.Assignment)
	}
}
