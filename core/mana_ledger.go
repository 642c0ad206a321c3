package core

// Mana ledger: a WAL-plus-snapshot durable store of per-DID regenerating
// compute credit, grounded on the same journal/snapshot/archive structure
// the teacher's block ledger uses, applied to account balances instead of
// a block chain.

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"synnergy-network/pkg/errs"
)

// ManaLedgerConfig configures journal and snapshot paths and cadence.
type ManaLedgerConfig struct {
	WALPath          string
	SnapshotPath     string
	SnapshotInterval int // journal entries between snapshots
	ArchivePath      string
	DefaultCapacity  uint64
}

// manaOp is one journalled mutation, replayed in order on restart.
type manaOp struct {
	Op     string    `json:"op"` // "credit" | "debit" | "set_capacity"
	Owner  DID       `json:"owner"`
	Amount uint64    `json:"amount"`
	At     time.Time `json:"at"`
}

// ManaLedger is the durable, journal-backed store of mana accounts.
type ManaLedger struct {
	mu       sync.RWMutex
	logger   *logrus.Logger
	accounts map[DID]*ManaAccount

	walFile          *os.File
	snapshotPath     string
	snapshotInterval int
	archivePath      string
	opsSinceSnapshot int
	defaultCapacity  uint64

	clock TimeProvider
}

// NewManaLedger opens (or creates) the WAL at cfg.WALPath and replays it to
// reconstruct account balances, mirroring the teacher ledger's WAL-replay
// constructor.
func NewManaLedger(cfg ManaLedgerConfig, lg *logrus.Logger, clock TimeProvider) (ml *ManaLedger, err error) {
	wal, err := os.OpenFile(cfg.WALPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("mana ledger: open WAL: %w", err)
	}
	defer func() {
		if err != nil {
			_ = wal.Close()
		}
	}()

	ml = &ManaLedger{
		logger:           lg,
		accounts:         make(map[DID]*ManaAccount),
		walFile:          wal,
		snapshotPath:     cfg.SnapshotPath,
		snapshotInterval: cfg.SnapshotInterval,
		archivePath:      cfg.ArchivePath,
		defaultCapacity:  cfg.DefaultCapacity,
		clock:            clock,
	}

	if cfg.SnapshotPath != "" {
		if f, serr := os.Open(cfg.SnapshotPath); serr == nil {
			dec := json.NewDecoder(f)
			var snap map[DID]*ManaAccount
			if derr := dec.Decode(&snap); derr == nil {
				ml.accounts = snap
			}
			f.Close()
		}
	}

	if _, serr := wal.Seek(0, 0); serr != nil {
		return nil, fmt.Errorf("mana ledger: seek WAL: %w", serr)
	}
	scanner := bufio.NewScanner(wal)
	for scanner.Scan() {
		var op manaOp
		if err = json.Unmarshal(scanner.Bytes(), &op); err != nil {
			return nil, fmt.Errorf("mana ledger: WAL unmarshal: %w", err)
		}
		ml.apply(op)
	}
	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("mana ledger: WAL scan: %w", err)
	}
	if _, err = wal.Seek(0, 2); err != nil {
		return nil, fmt.Errorf("mana ledger: seek WAL end: %w", err)
	}

	lg.WithField("accounts", len(ml.accounts)).Info("mana ledger: replay complete")
	return ml, nil
}

func (ml *ManaLedger) apply(op manaOp) {
	acc, ok := ml.accounts[op.Owner]
	if !ok {
		acc = &ManaAccount{Owner: op.Owner, Capacity: ml.defaultCapacity}
		ml.accounts[op.Owner] = acc
	}
	switch op.Op {
	case "credit":
		acc.Balance += op.Amount
		if acc.Balance > acc.Capacity {
			acc.Overflows++
			acc.Balance = acc.Capacity
			manaOverflowsTotal.Inc()
		}
		manaOpsTotal.WithLabelValues("credit").Inc()
	case "debit":
		if op.Amount > acc.Balance {
			acc.Balance = 0
		} else {
			acc.Balance -= op.Amount
		}
		manaOpsTotal.WithLabelValues("debit").Inc()
	case "set_capacity":
		acc.Capacity = op.Amount
		manaOpsTotal.WithLabelValues("set_capacity").Inc()
	}
	acc.LastRegen = op.At
}

func (ml *ManaLedger) journal(op manaOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	if _, err := ml.walFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("mana ledger: write WAL: %w", err)
	}
	if err := ml.walFile.Sync(); err != nil {
		return fmt.Errorf("mana ledger: sync WAL: %w", err)
	}
	ml.opsSinceSnapshot++
	if ml.snapshotInterval > 0 && ml.opsSinceSnapshot >= ml.snapshotInterval {
		if err := ml.snapshot(); err != nil {
			ml.logger.WithError(err).Error("mana ledger: snapshot failed")
		}
	}
	return nil
}

// snapshot persists the full account table and truncates the WAL, the same
// tradeoff the block ledger makes: the snapshot is the source of truth, the
// WAL only needs to capture operations since the last one.
func (ml *ManaLedger) snapshot() error {
	if ml.snapshotPath == "" {
		return nil
	}
	f, err := os.Create(ml.snapshotPath)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(ml.accounts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := ml.walFile.Close(); err != nil {
		return err
	}
	wal, err := os.Create(ml.walFile.Name())
	if err != nil {
		return err
	}
	ml.walFile = wal
	ml.opsSinceSnapshot = 0
	ml.logger.WithField("path", ml.snapshotPath).Info("mana ledger: snapshot written")
	return nil
}

// Get returns a copy of owner's account, creating one with the ledger's
// default capacity if it does not yet exist.
func (ml *ManaLedger) Get(owner DID) ManaAccount {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	if acc, ok := ml.accounts[owner]; ok {
		return *acc
	}
	return ManaAccount{Owner: owner, Capacity: ml.defaultCapacity}
}

// Credit adds amount to owner's balance, clamped at capacity with an
// overflow counter, and journals the op.
func (ml *ManaLedger) Credit(owner DID, amount uint64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	op := manaOp{Op: "credit", Owner: owner, Amount: amount, At: ml.clock.Now()}
	if err := ml.journal(op); err != nil {
		return err
	}
	ml.apply(op)
	return nil
}

// Debit subtracts amount from owner's balance. It fails with
// errs.KindInsufficientMana if the account cannot cover the charge; the op
// is only journalled once the check passes, so a rejected debit leaves no
// trace in the WAL.
func (ml *ManaLedger) Debit(owner DID, amount uint64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	acc, ok := ml.accounts[owner]
	if !ok || acc.Balance < amount {
		return errs.New(errs.KindInsufficientMana, "mana_ledger.Debit", fmt.Errorf("insufficient balance for %s", owner))
	}
	op := manaOp{Op: "debit", Owner: owner, Amount: amount, At: ml.clock.Now()}
	if err := ml.journal(op); err != nil {
		return err
	}
	ml.apply(op)
	return nil
}

// SetCapacity sets owner's maximum balance.
func (ml *ManaLedger) SetCapacity(owner DID, capacity uint64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	op := manaOp{Op: "set_capacity", Owner: owner, Amount: capacity, At: ml.clock.Now()}
	if err := ml.journal(op); err != nil {
		return err
	}
	ml.apply(op)
	return nil
}

// Regenerate grants mana to every tracked account according to a weighted
// contribution/reliability/demand-pressure formula. It is intended to be
// called on a periodic tick by the node's maintenance loop.
//
// regen = baseRate * (1 + reliability) * (1 + log1p(receiptsServed)) / (1 + demandPressure)
func (ml *ManaLedger) Regenerate(baseRate float64, metrics map[DID]ContribMetrics) error {
	ml.mu.Lock()
	owners := make([]DID, 0, len(ml.accounts))
	for o := range ml.accounts {
		owners = append(owners, o)
	}
	ml.mu.Unlock()

	for _, owner := range owners {
		m := metrics[owner]
		regen := regenAmount(baseRate, m)
		if regen <= 0 {
			continue
		}
		if err := ml.Credit(owner, regen); err != nil {
			return err
		}
	}
	return nil
}

func regenAmount(baseRate float64, m ContribMetrics) uint64 {
	if baseRate <= 0 {
		return 0
	}
	reliability := m.Reliability
	if reliability < 0 {
		reliability = 0
	}
	demand := m.DemandPressure
	if demand < 0 {
		demand = 0
	}
	served := float64(m.ReceiptsServed)
	factor := (1 + reliability) * (1 + math.Log1p(served)) / (1 + demand)
	amt := baseRate * factor
	if amt < 0 {
		return 0
	}
	return uint64(amt)
}

// Close releases the underlying WAL file handle.
func (ml *ManaLedger) Close() error {
	if ml == nil || ml.walFile == nil {
		return nil
	}
	return ml.walFile.Close()
}
