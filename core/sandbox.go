package core

// Sandbox: the WASM execution environment jobs run inside, adapted from the
// teacher's HeavyVM (Wasmer JIT backend, host functions registered under the
// "env" namespace using a (ptr,len) guest-memory calling convention). The
// LightVM bytecode interpreter and SuperLightVM signature-only path are
// dropped — every mesh job is WASM — and the host ABI is widened from
// storage get/set/log to the full set a job needs: DAG reads/writes, mana
// charges, reputation queries, and inert stub categories for
// governance/credential/token/ZK extensions the spec reserves but does not
// define, and host_time_now/host_random ABI entries backed by the injected
// TimeProvider/RngProvider rather than direct calls to the runtime clock.

import (
	"context"
	"errors"
	"fmt"
	"github.com/ipfs/go-cid"
	"github.com/wasmerio/wasmer-go/wasmer"
)

//---------------------------------------------------------------------
// FuelMeter — renamed from GasMeter, priced by SandboxOp instead of Opcode
//---------------------------------------------------------------------

// FuelMeter tracks fuel usage and enforces a job's execution fuel limit.
type FuelMeter struct {
	used  uint64
	limit uint64
}

// NewFuelMeter constructs a FuelMeter with the given fuel limit.
func NewFuelMeter(limit uint64) *FuelMeter {
	return &FuelMeter{limit: limit}
}

// Remaining returns the fuel remaining.
func (f *FuelMeter) Remaining() uint64 {
	if f.used > f.limit {
		return 0
	}
	return f.limit - f.used
}

// Used returns fuel consumed so far.
func (f *FuelMeter) Used() uint64 { return f.used }

// Consume charges the cost of op, failing if it would exceed the limit.
func (f *FuelMeter) Consume(op SandboxOp) error {
	c := FuelCost(op)
	if f.used+c > f.limit {
		return fmt.Errorf("sandbox: out of fuel (%d/%d)", f.used+c, f.limit)
	}
	f.used += c
	return nil
}

//---------------------------------------------------------------------
// Sandbox — Wasmer-backed executor
//---------------------------------------------------------------------

// SandboxHost is the set of mesh capabilities a running job may call into.
// It is the seam between the WASM guest and the node's durable state.
type SandboxHost struct {
	DAG        *Store
	Mana       *ManaLedger
	Reputation *ReputationStore
	Clock      TimeProvider
	Rng        RngProvider
	Executor   DID
}

// Sandbox wraps a wasmer engine and enforces a fuel budget and resource
// limits on every execution.
type Sandbox struct {
	engine *wasmer.Engine
	host   SandboxHost
}

// NewSandbox constructs a Sandbox bound to host capabilities.
func NewSandbox(host SandboxHost) *Sandbox {
	return &Sandbox{engine: wasmer.NewEngine(), host: host}
}

// ExecutionResult is the sandbox's verdict on a run, the basis for the
// Receipt the executor agent publishes.
type ExecutionResult struct {
	Success    bool
	OutputCID  []byte // raw bytes; caller pins to the DAG and takes the CID
	FuelUsed   uint64
	Error      string
	Logs       []string
}

// sandboxCtx is the per-execution state host functions close over.
type sandboxCtx struct {
	mem    *wasmer.Memory
	fuel   *FuelMeter
	host   SandboxHost
	ctx    context.Context
	jobCID string
	result *ExecutionResult
	output []byte
	limits ResourceLimits
}

// checkMemoryLimit rejects an execution whose current linear memory already
// exceeds limits.MaxMemory. wasmer-go's public Memory API exposes only
// Data() []byte for inspecting the backing buffer, so len(Data()) stands in
// for a dedicated size accessor. A zero MaxMemory leaves growth unbounded.
func (h *sandboxCtx) checkMemoryLimit() error {
	if h.limits.MaxMemory == 0 {
		return nil
	}
	if uint64(len(h.mem.Data())) > h.limits.MaxMemory {
		return fmt.Errorf("sandbox: memory limit exceeded (%d/%d bytes)", len(h.mem.Data()), h.limits.MaxMemory)
	}
	return nil
}

// charge enforces the memory cap before charging op's fuel cost, so a
// module that has already grown past its bound is stopped even on a call
// that would otherwise have fuel to spare.
func (h *sandboxCtx) charge(op SandboxOp) error {
	if err := h.checkMemoryLimit(); err != nil {
		return err
	}
	return h.fuel.Consume(op)
}

// Run executes wasmCode against limits, returning the job's result. _start
// is the required WASM entrypoint, matching the teacher's HeavyVM
// convention.
func (s *Sandbox) Run(ctx context.Context, wasmCode []byte, jobCID string, limits ResourceLimits) (*ExecutionResult, error) {
	result := &ExecutionResult{Success: true}
	store := wasmer.NewStore(s.engine)
	mod, err := wasmer.NewModule(store, wasmCode)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile module: %w", err)
	}

	sctx := &sandboxCtx{
		fuel:   NewFuelMeter(limits.MaxFuel),
		host:   s.host,
		ctx:    ctx,
		jobCID: jobCID,
		result: result,
		limits: limits,
	}

	imports := registerSandboxHost(store, sctx)
	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, errors.New("sandbox: wasm memory export missing")
	}
	sctx.mem = mem
	if err := sctx.checkMemoryLimit(); err != nil {
		return nil, err
	}

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return nil, errors.New("sandbox: _start function required")
	}

	done := make(chan error, 1)
	go func() {
		_, err := start()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		}
	case <-ctx.Done():
		result.Success = false
		result.Error = "sandbox: execution deadline exceeded"
	}

	result.FuelUsed = sctx.fuel.used
	result.OutputCID = sctx.output
	return result, nil
}

//---------------------------------------------------------------------
// Host ABI
//---------------------------------------------------------------------

// registerSandboxHost wires the mesh host ABI into WASM imports under the
// "env" namespace, following the teacher's (ptr,len) calling convention:
// guest passes pointers into its own linear memory, host copies in/out via
// sctx.mem.Data().
func registerSandboxHost(store *wasmer.Store, h *sandboxCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		data := h.mem.Data()[ptr : ptr+ln]
		out := make([]byte, ln)
		copy(out, data)
		return out
	}
	write := func(ptr int32, data []byte) { copy(h.mem.Data()[ptr:], data) }

	i32fn := func(nIn, nOut int, fn func(args []wasmer.Value) ([]wasmer.Value, error)) *wasmer.Function {
		in := make([]wasmer.ValueKind, nIn)
		out := make([]wasmer.ValueKind, nOut)
		for i := range in {
			in[i] = wasmer.I32
		}
		for i := range out {
			out[i] = wasmer.I32
		}
		return wasmer.NewFunction(store, wasmer.NewFunctionType(wasmer.NewValueTypes(in...), wasmer.NewValueTypes(out...)), fn)
	}

	hostConsumeFuel := i32fn(1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		op := SandboxOp(uint32(args[0].I32()))
		if err := h.charge(op); err != nil {
			h.result.Success = false
			h.result.Error = err.Error()
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	hostDagGet := i32fn(3, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		cPtr, cLen, dPtr := args[0].I32(), args[1].I32(), args[2].I32()
		cidStr := string(read(cPtr, cLen))
		c, err := cid.Decode(cidStr)
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if err := h.charge(OpDagRead); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		val, err := h.host.DAG.Get(h.ctx, c)
		if err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		write(dPtr, val)
		return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
	})

	hostDagPut := i32fn(2, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		vPtr, vLen := args[0].I32(), args[1].I32()
		val := read(vPtr, vLen)
		if err := h.charge(OpDagWrite); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		h.output = append([]byte(nil), val...)
		return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
	})

	hostManaCharge := i32fn(1, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		amount := uint64(uint32(args[0].I32()))
		if err := h.charge(OpManaCharge); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if err := h.host.Mana.Debit(h.host.Executor, amount); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	hostReputationGet := i32fn(0, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		if err := h.charge(OpReputationQuery); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		rec := h.host.Reputation.Get(h.host.Executor)
		return []wasmer.Value{wasmer.NewI32(int32(rec.Score))}, nil
	})

	hostTimeNow := i32fn(0, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		clock := h.host.Clock
		if clock == nil {
			clock = SystemClock
		}
		return []wasmer.Value{wasmer.NewI32(int32(clock.Now().Unix()))}, nil
	})

	hostRandom := i32fn(0, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
		rng := h.host.Rng
		if rng == nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(int32(rng.Int63n(1 << 31)))}, nil
	})

	hostLog := i32fn(2, 0, func(args []wasmer.Value) ([]wasmer.Value, error) {
		p, l := args[0].I32(), args[1].I32()
		msg := string(read(p, l))
		if err := h.charge(OpLog); err == nil {
			h.result.Logs = append(h.result.Logs, msg)
		}
		return []wasmer.Value{}, nil
	})

	// Stub host calls for categories the spec reserves a slot for but does
	// not define semantics for: they charge fuel and report unimplemented
	// rather than silently succeeding.
	hostUnimplemented := func(op SandboxOp) *wasmer.Function {
		return i32fn(0, 1, func(args []wasmer.Value) ([]wasmer.Value, error) {
			_ = h.charge(op)
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		})
	}

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_fuel":    hostConsumeFuel,
		"host_dag_get":         hostDagGet,
		"host_dag_put":         hostDagPut,
		"host_mana_charge":     hostManaCharge,
		"host_reputation_get":  hostReputationGet,
		"host_time_now":        hostTimeNow,
		"host_random":          hostRandom,
		"host_log":             hostLog,
		"host_governance_call": hostUnimplemented(OpGovernanceCall),
		"host_credential_call": hostUnimplemented(OpCredentialCall),
		"host_token_call":      hostUnimplemented(OpTokenCall),
		"host_zk_verify":       hostUnimplemented(OpZKVerify),
	})

	return imports
}
