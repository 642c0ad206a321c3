// Command icnctl is the operator CLI for a mesh node: submit jobs, inspect
// their state, and manage overlay peers and mana accounts. It mirrors
// cmd/synnergy/main.go's cobra root-command wiring, generalized from mock
// testnet/token subcommands to the job-lifecycle operations this module
// implements.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/core"
	"synnergy-network/pkg/config"
)

var (
	dataDir            string
	envName            string
	keystorePassphrase string
	nodeOnce           sync.Once

	dag    *core.Store
	mana   *core.ManaLedger
	rep    *core.ReputationStore
	wallet *core.HDWallet
	selfDID core.DID
	jm     *core.JobManager
)

func main() {
	rootCmd := &cobra.Command{Use: "icnctl", Short: "Operate a mesh node's job lifecycle"}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./icn-data", "directory for wallet, DAG cache and mana/reputation state")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment overlay to merge into the on-disk config (e.g. staging, production)")
	rootCmd.PersistentFlags().StringVar(&keystorePassphrase, "keystore-passphrase", os.Getenv("ICNCTL_KEYSTORE_PASSPHRASE"), "passphrase protecting the on-disk wallet keystore (env ICNCTL_KEYSTORE_PASSPHRASE)")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(peersCmd())
	rootCmd.AddCommand(connectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initState lazily wires the local node's durable collaborators, mirroring
// the teacher's connpool.go PersistentPreRunE-plus-sync.Once singleton
// pattern so every subcommand shares one on-disk state directory.
func initState(cmd *cobra.Command, _ []string) error {
	var outerErr error
	nodeOnce.Do(func() {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			outerErr = fmt.Errorf("icnctl: create data dir: %w", err)
			return
		}
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)

		// cmd/config/*.yaml is optional for a short-lived operator CLI: fall
		// back to flag defaults when none is present rather than failing.
		cfg, err := config.Load(envName)
		if err != nil {
			cfg = &config.Config{}
		} else {
			if lvl, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
				logger.SetLevel(lvl)
			}
		}

		if keystorePassphrase == "" {
			outerErr = fmt.Errorf("icnctl: --keystore-passphrase (or ICNCTL_KEYSTORE_PASSPHRASE) is required")
			return
		}
		ks := core.NewFileKeyStore(filepath.Join(dataDir, "wallet.json"), keystorePassphrase)
		w, err := ks.Load()
		if err != nil {
			var mnemonic string
			w, mnemonic, err = core.NewRandomWallet(256)
			if err != nil {
				outerErr = fmt.Errorf("icnctl: generate wallet: %w", err)
				return
			}
			fmt.Fprintf(os.Stderr, "icnctl: generated new wallet, recovery phrase: %s\n", mnemonic)
			if serr := ks.Save(w); serr != nil {
				outerErr = fmt.Errorf("icnctl: save wallet: %w", serr)
				return
			}
		}
		wallet = w
		did, err := wallet.NewDID(0, 0)
		if err != nil {
			outerErr = fmt.Errorf("icnctl: derive did: %w", err)
			return
		}
		selfDID = did

		store, err := core.NewStore(core.StoreConfig{
			CacheDir:         filepath.Join(dataDir, "cache"),
			CacheSizeEntries: cfg.Storage.DAG.CacheSizeEntries,
			PinTTL:           time.Duration(cfg.Storage.DAG.PinTTLSeconds) * time.Second,
		}, mustFileBackend(filepath.Join(dataDir, "dag")), logger)
		if err != nil {
			outerErr = fmt.Errorf("icnctl: open dag store: %w", err)
			return
		}
		dag = store

		defaultCapacity := cfg.Mana.DefaultCapacity
		if defaultCapacity == 0 {
			defaultCapacity = 10_000
		}
		ml, err := core.NewManaLedger(core.ManaLedgerConfig{
			WALPath:         filepath.Join(dataDir, "mana.wal"),
			SnapshotPath:    filepath.Join(dataDir, "mana.snap"),
			DefaultCapacity: defaultCapacity,
		}, logger, core.SystemClock)
		if err != nil {
			outerErr = fmt.Errorf("icnctl: open mana ledger: %w", err)
			return
		}
		mana = ml

		rep = core.NewReputationStore(logger, core.SystemClock)

		jm = core.NewJobManager(dag, mana, rep, nullBroadcaster{}, core.SystemClock, core.NewSystemRng(), logger, core.DefaultJobManagerConfig(), selfDID, wallet, 0, 0)
	})
	return outerErr
}

func mustFileBackend(dir string) *core.FileBackend {
	b, err := core.NewFileBackend(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "icnctl: file backend:", err)
		os.Exit(1)
	}
	return b
}

// nullBroadcaster is used for commands that operate purely on local state
// (submit bookkeeping, mana queries); a live overlay is only needed once a
// node subscribes to gossip, which icnctl does not do on the operator's
// behalf.
type nullBroadcaster struct{}

func (nullBroadcaster) Broadcast(string, []byte) error { return nil }

func submitCmd() *cobra.Command {
	var wasmPath, inputPath string
	var maxReward, minMana, maxFuel uint64
	var maxMemory uint64
	var deadline time.Duration
	var costMana uint64

	cmd := &cobra.Command{
		Use:               "submit",
		Short:             "Submit a job to the mesh",
		PersistentPreRunE: initState,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wasmPath == "" {
				return fmt.Errorf("icnctl: --wasm is required")
			}
			wasmBytes, err := os.ReadFile(wasmPath)
			if err != nil {
				return fmt.Errorf("icnctl: read wasm: %w", err)
			}
			wasmCID, err := dag.Put(cmd.Context(), wasmBytes)
			if err != nil {
				return fmt.Errorf("icnctl: publish wasm: %w", err)
			}

			inputCID := cid.Undef
			if inputPath != "" {
				inputBytes, err := os.ReadFile(inputPath)
				if err != nil {
					return fmt.Errorf("icnctl: read input: %w", err)
				}
				inputCID, err = dag.Put(cmd.Context(), inputBytes)
				if err != nil {
					return fmt.Errorf("icnctl: publish input: %w", err)
				}
			}

			spec := core.JobSpec{
				Submitter: selfDID,
				WasmCID:   wasmCID,
				InputCID:  inputCID,
				Limits: core.ResourceLimits{
					MaxFuel:   maxFuel,
					MaxMemory: maxMemory,
					MinMana:   minMana,
				},
				MaxReward: maxReward,
				Deadline:  time.Now().Add(deadline),
				Nonce:     nonceFromUUID(),
			}

			jobCID, err := jm.Submit(cmd.Context(), spec, costMana)
			if err != nil {
				return fmt.Errorf("icnctl: submit: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobCID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "path to the job's WASM module")
	cmd.Flags().StringVar(&inputPath, "input", "", "path to the job's input blob (optional)")
	cmd.Flags().Uint64Var(&maxReward, "max-reward", 0, "maximum reward mana the submitter will pay")
	cmd.Flags().Uint64Var(&minMana, "min-mana", 1, "minimum mana balance an executor must hold to bid")
	cmd.Flags().Uint64Var(&maxFuel, "max-fuel", 1_000_000, "execution fuel limit")
	cmd.Flags().Uint64Var(&maxMemory, "max-memory", 64<<20, "execution memory limit in bytes")
	cmd.Flags().DurationVar(&deadline, "deadline", time.Hour, "time from now the job must complete by")
	cmd.Flags().Uint64Var(&costMana, "cost-mana", 0, "mana reserved from the submitter for this job")
	return cmd
}

// nonceFromUUID folds a fresh random UUID down to a uint64 nonce, giving
// every submission a collision-resistant identifier without the caller
// having to track a counter.
func nonceFromUUID() uint64 {
	id := uuid.New()
	var n uint64
	for i := 0; i < 8; i++ {
		n = n<<8 | uint64(id[i])
	}
	return n
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "status <job-cid>",
		Short:             "Show a job's current lifecycle state",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: initState,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobCID, err := cid.Decode(args[0])
			if err != nil {
				return fmt.Errorf("icnctl: invalid job cid: %w", err)
			}
			state, err := jm.Get(jobCID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "state: %s\n", state.State)
			if state.FailReason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "reason: %s\n", state.FailReason)
			}
			if state.Assignment != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "executor: %s price: %d\n", state.Assignment.Executor, state.Assignment.Price)
			}
			if state.Receipt != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "output: %s fuel_used: %d\n", state.Receipt.OutputCID, state.Receipt.FuelUsed)
			}
			return nil
		},
	}
	return cmd
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Inspect or fund mana accounts", PersistentPreRunE: initState}

	cmd.AddCommand(&cobra.Command{
		Use:   "mana [did]",
		Short: "Show a DID's mana balance (defaults to this node's own DID)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			did := selfDID
			if len(args) == 1 {
				did = core.DID(args[0])
			}
			acc := mana.Get(did)
			fmt.Fprintf(cmd.OutOrStdout(), "balance: %d capacity: %d overflows: %d\n", acc.Balance, acc.Capacity, acc.Overflows)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "credit <did> <amount>",
		Short: "Credit mana to a DID (development use)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount uint64
			if _, err := fmt.Sscanf(args[1], "%d", &amount); err != nil {
				return fmt.Errorf("icnctl: invalid amount: %w", err)
			}
			if err := mana.Credit(core.DID(args[0]), amount); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})
	return cmd
}

func peersCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List the overlay peers a short-lived node observes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := core.NewNode(ctx, core.OverlayConfig{ListenAddr: listenAddr})
			if err != nil {
				return fmt.Errorf("icnctl: start overlay node: %w", err)
			}
			defer n.Close()
			for _, p := range n.Peers() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.ID, p.Addr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr")
	return cmd
}

func connectCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "connect <multiaddr>",
		Short: "Dial a peer's multiaddr directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			n, err := core.NewNode(ctx, core.OverlayConfig{ListenAddr: listenAddr})
			if err != nil {
				return fmt.Errorf("icnctl: start overlay node: %w", err)
			}
			defer n.Close()
			if err := n.Connect(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "connected")
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr")
	return cmd
}
