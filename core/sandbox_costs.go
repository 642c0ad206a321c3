package core

// Fuel schedule for the sandbox host ABI, replacing gas_table.go/vm_opcodes.go.
// Keeps the teacher's "unpriced op falls back to a punitive default, logged
// once" discipline, repriced for the mesh host calls instead of EVM opcodes.

import "github.com/sirupsen/logrus"

// SandboxOp tags a chargeable host call a running job made.
type SandboxOp uint32

const (
	OpConsumeFuel SandboxOp = iota
	OpDagRead
	OpDagWrite
	OpManaCharge
	OpReputationQuery
	OpLog
	OpGovernanceCall
	OpCredentialCall
	OpTokenCall
	OpZKVerify
)

// DefaultFuelCost is charged for any host call that has slipped through the
// cracks of fuelTable below.
const DefaultFuelCost uint64 = 10_000

var fuelTable = map[SandboxOp]uint64{
	OpConsumeFuel:     1,
	OpDagRead:         500,
	OpDagWrite:        800,
	OpManaCharge:      50,
	OpReputationQuery: 20,
	OpLog:             10,
	OpGovernanceCall:  2_000,
	OpCredentialCall:  2_000,
	OpTokenCall:       1_500,
	OpZKVerify:        50_000,
}

var loggedMissingFuelCost = map[SandboxOp]bool{}

// FuelCost returns the fuel cost for a single host call, logging the first
// occurrence of any op missing from the table.
func FuelCost(op SandboxOp) uint64 {
	if cost, ok := fuelTable[op]; ok {
		return cost
	}
	if !loggedMissingFuelCost[op] {
		loggedMissingFuelCost[op] = true
		logrus.WithField("op", op).Warn("sandbox: missing fuel cost, charging default")
	}
	return DefaultFuelCost
}
