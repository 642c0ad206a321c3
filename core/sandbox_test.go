package core

import "testing"

func TestFuelMeterConsumeWithinLimit(t *testing.T) {
	m := NewFuelMeter(1000)
	if err := m.Consume(OpDagRead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Used() != FuelCost(OpDagRead) {
		t.Fatalf("used = %d, want %d", m.Used(), FuelCost(OpDagRead))
	}
	if m.Remaining() != 1000-FuelCost(OpDagRead) {
		t.Fatalf("remaining = %d, want %d", m.Remaining(), 1000-FuelCost(OpDagRead))
	}
}

func TestFuelMeterOutOfFuel(t *testing.T) {
	m := NewFuelMeter(10)
	if err := m.Consume(OpZKVerify); err == nil {
		t.Fatalf("expected out-of-fuel error")
	}
	if m.Used() != 0 {
		t.Fatalf("a failed consume must not charge fuel, used = %d", m.Used())
	}
}

func TestFuelCostFallsBackForUnknownOp(t *testing.T) {
	unknown := SandboxOp(9999)
	if cost := FuelCost(unknown); cost != DefaultFuelCost {
		t.Fatalf("cost = %d, want default %d", cost, DefaultFuelCost)
	}
}

func TestFuelCostKnownOpsNonZero(t *testing.T) {
	for _, op := range []SandboxOp{OpDagRead, OpDagWrite, OpManaCharge, OpReputationQuery, OpLog} {
		if FuelCost(op) == 0 {
			t.Fatalf("op %d priced at zero fuel", op)
		}
	}
}
