// Command recovery runs the Sonic Earn recovery pipeline: it snapshots
// beneficial claim-token ownership at a pinned height, publishes Merkle
// distribution artifacts and serves the claim API.
//
// Usage:
//
//	recovery snapshot --config run.yaml
//	recovery verify --dist dist
//	recovery serve --config run.yaml --dist dist
//	recovery setup
//
// A .env file is loaded when present. RECOVERY_RPC_URL overrides the
// rpc_url config entry so the endpoint can stay out of the yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Figu3/sonic-earn-recovery-system/config"
	"github.com/Figu3/sonic-earn-recovery-system/internal/clients"
	"github.com/Figu3/sonic-earn-recovery-system/internal/domain"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/claims"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/distributor"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/resolver"
	"github.com/Figu3/sonic-earn-recovery-system/internal/services/waiver"
	"github.com/Figu3/sonic-earn-recovery-system/internal/setup"
	"github.com/Figu3/sonic-earn-recovery-system/internal/storage/claimlog"
	"github.com/Figu3/sonic-earn-recovery-system/internal/web"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "snapshot":
		fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
		configPath := fs.String("config", "run.yaml", "path to yaml run config")
		_ = fs.Parse(os.Args[2:])
		if err := runSnapshot(*configPath); err != nil {
			log.Fatal(err)
		}
	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		distDir := fs.String("dist", "dist", "directory with exported distribution artifacts")
		_ = fs.Parse(os.Args[2:])
		if err := runVerify(*distDir); err != nil {
			log.Fatal(err)
		}
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		configPath := fs.String("config", "run.yaml", "path to yaml run config")
		distDir := fs.String("dist", "dist", "directory with exported distribution artifacts")
		_ = fs.Parse(os.Args[2:])
		if err := runServe(*configPath, *distDir); err != nil {
			log.Fatal(err)
		}
	case "setup":
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: recovery <snapshot|verify|serve|setup> [flags]")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if url := os.Getenv("RECOVERY_RPC_URL"); url != "" {
		cfg.RPCURL = url
	}

	return cfg, nil
}

// interruptContext cancels on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func runSnapshot(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, cancel := interruptContext()
	defer cancel()

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return errors.Wrapf(err, "dial %s", cfg.RPCURL)
	}
	defer client.Close()

	reader := clients.NewChainReader(client, cfg.SnapshotHeight, logger)
	engine := resolver.New(logger, reader, cfg.Tokens, cfg.Wrappers, cfg.Redirects,
		resolver.WithWorkers(cfg.Workers))

	sheet, err := engine.Resolve(ctx)
	if err != nil {
		return err
	}

	d := distributor.New(logger, distributor.Mode(cfg.TreeMode))
	res, err := d.Build(sheet)
	if err != nil {
		return err
	}

	if err := d.Export(res, sheet, cfg.SnapshotHeight, cfg.OutDir); err != nil {
		return err
	}

	logger.Info("snapshot complete",
		zap.String("run_id", res.RunID),
		zap.Uint64("height", cfg.SnapshotHeight),
		zap.String("out", cfg.OutDir))

	return nil
}

func runVerify(distDir string) error {
	res, err := distributor.Load(distDir)
	if err != nil {
		return err
	}
	if err := res.Verify(); err != nil {
		return err
	}

	fmt.Printf("run %s\n", res.RunID)
	for _, tc := range res.Trees {
		fmt.Printf("%s: root %s, %d leaves, every proof verified\n", tc.Label, tc.Root.Hex(), len(tc.Leaves))
	}

	return nil
}

func runServe(configPath, distDir string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	res, err := distributor.Load(distDir)
	if err != nil {
		return err
	}
	if err := res.Verify(); err != nil {
		return errors.Wrap(err, "refusing to serve unverifiable artifacts")
	}

	store, err := claimlog.NewStore(cfg.Claim.WALDir)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Events()
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	registry := waiver.NewRegistry(logger, clock, store, cfg.Claim.ChainID, cfg.Claim.VerifyingContract)
	ledger := claims.NewLedger(logger, clock, registry, claims.NewInstructionLog(logger), store)

	if err := registry.Replay(); err != nil {
		return err
	}
	if err := ledger.Replay(); err != nil {
		return err
	}

	// a fresh journal means a first boot: fund per config and open the
	// initial round over the exported roots
	if len(events) == 0 {
		if err := bootstrap(cfg, res, ledger, clock, logger); err != nil {
			return err
		}
	}

	ctx, cancel := interruptContext()
	defer cancel()

	srv := web.NewServer(cfg.Server.Addr, ledger, registry, res, logger)
	if len(cfg.Server.TLSDomains) > 0 {
		return srv.StartWithAutoTLS(ctx, cfg.Server.TLSDomains, cfg.Server.CertCache)
	}

	return srv.Start(ctx)
}

// bootstrap funds the treasury per config and opens round 1 spanning the
// full funded amounts. Restarts never reach this: they replay the
// journal instead, so funding cannot be applied twice.
func bootstrap(cfg *config.Config, res *distributor.Result, ledger *claims.Ledger,
	clock clockwork.Clock, logger *zap.Logger) error {

	for _, f := range cfg.Claim.Funding {
		if err := ledger.Fund(f.Token, f.Amount); err != nil {
			return err
		}
	}

	spec := claims.RoundSpec{
		TotalA:   ledger.Custody(domain.TokenA),
		TotalB:   ledger.Custody(domain.TokenB),
		Deadline: clock.Now().Add(cfg.Claim.DeadlineTTL),
	}
	if spec.TotalA.Sign() == 0 && spec.TotalB.Sign() == 0 {
		logger.Warn("no funding configured, serving without an open round")
		return nil
	}

	if cfg.TreeMode == "joint" {
		tc := res.Tree("joint")
		if tc == nil {
			return errors.New("joint tree missing from artifacts")
		}
		spec.Joint = true
		spec.RootA = tc.Root
	} else {
		if spec.TotalA.Sign() > 0 {
			tc := res.Tree("token-a")
			if tc == nil {
				return errors.New("token-a tree missing from artifacts")
			}
			spec.RootA = tc.Root
		}
		if spec.TotalB.Sign() > 0 {
			tc := res.Tree("token-b")
			if tc == nil {
				return errors.New("token-b tree missing from artifacts")
			}
			spec.RootB = tc.Root
		}
	}

	id, err := ledger.CreateRound(spec)
	if err != nil {
		return err
	}

	logger.Info("initial round opened",
		zap.Uint64("round", id),
		zap.String("total_a", spec.TotalA.String()),
		zap.String("total_b", spec.TotalB.String()),
		zap.Time("deadline", spec.Deadline))

	return nil
}
