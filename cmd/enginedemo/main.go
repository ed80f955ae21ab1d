// Command enginedemo wires a single-node Engine from a config file and
// drives a handful of transactions through it to completion, printing
// the resulting status for each. It is deliberately not a REST server
// or a CLI subcommand tree: a single action, a handful of flags.
//
// Adapted from the teacher's cmd/coordinator main.go in spirit (a small
// main that wires components together; this one runs to completion and
// installs no shutdown-signal handler)
// but built on urfave/cli/v2 for flag parsing instead of raw
// environment variables, per the rest of the retrieved corpus.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dreamware/shardledger/internal/avalanche"
	"github.com/dreamware/shardledger/internal/config"
	"github.com/dreamware/shardledger/internal/dag"
	"github.com/dreamware/shardledger/internal/engine"
	"github.com/dreamware/shardledger/internal/peer"
	"github.com/dreamware/shardledger/internal/shardmgr"
	"github.com/dreamware/shardledger/internal/storage"
	"github.com/dreamware/shardledger/internal/txid"
)

func main() {
	app := &cli.App{
		Name:  "enginedemo",
		Usage: "drive a handful of transactions through a single sharded ledger node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file (optional; defaults used otherwise)"},
			&cli.IntFlag{Name: "shards", Value: 4, Usage: "number of shards to start with"},
			&cli.IntFlag{Name: "transactions", Value: 10, Usage: "number of demo transactions to submit"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	store := storage.NewMemoryStore()
	defer store.Close()

	ledger := dag.NewLedger(nil)

	numShards := c.Int("shards")
	shardIDs := make([]dag.ShardId, numShards)
	for i := range shardIDs {
		shardIDs[i] = dag.ShardId(i)
	}
	shards := shardmgr.NewManager(shardIDs, store, logger, cfg.Shard.PrepareTimeout)
	shards.SetRebalanceParams(shardmgr.RebalanceParams{
		MinShards:               cfg.Shard.MinShards,
		MaxShards:               cfg.Shard.MaxShards,
		MaxTransactionsPerShard: cfg.Shard.MaxTransactionsPerShard,
		ReshardThreshold:        cfg.Shard.ReshardThreshold,
	})

	sampler := peer.NewInMemorySampler(1)
	wireVotingPeers(sampler, ledger)

	avaCfg := avalanche.Config{
		SampleSize:  cfg.Avalanche.SampleSize,
		Threshold:   cfg.Avalanche.Threshold,
		MaxRounds:   cfg.Avalanche.MaxRounds,
		VoteTimeout: cfg.Avalanche.VoteTimeout,
	}
	ava, err := avalanche.NewEngine(ledger, sampler, avaCfg, 1024)
	if err != nil {
		return err
	}

	eng := engine.New(ledger, ava, shards, store, logger, engine.Config{MaxInflight: cfg.Engine.MaxInflight})

	ctx := context.Background()
	seed := dag.New(nil, []byte("sender:genesis/seed"), time.Now())
	if _, err := ledger.Insert(ctx, seed); err != nil {
		return err
	}
	ledger.SetStatus(seed.Id, dag.Confirmed)
	logger.Info("seeded genesis transaction", zap.String("tx", seed.Id.String()))

	parent := seed.Id
	n := c.Int("transactions")
	for i := 0; i < n; i++ {
		tx := dag.New([]txid.TxId{parent}, []byte(fmt.Sprintf("sender:demo-%d/payload", i)), time.Now())
		status, err := eng.Process(ctx, tx)
		if err != nil {
			logger.Warn("process failed", zap.String("tx", tx.Id.String()), zap.Error(err))
			continue
		}
		logger.Info("processed transaction", zap.String("tx", tx.Id.String()), zap.String("status", status.String()))
		if status == dag.Confirmed {
			parent = tx.Id
		}
	}

	snap := eng.Metrics().Snapshot()
	logger.Info("demo run complete",
		zap.Float64("processed", snap.Processed),
		zap.Float64("confirmed", snap.Confirmed),
		zap.Float64("rejected", snap.Rejected),
		zap.Float64("conflicting", snap.Conflicted))

	return nil
}

// wireVotingPeers registers five in-memory voters that answer from the
// shared ledger's local status: unknown or Rejected -> Reject, Confirmed
// -> Accept, anything else -> Accept except for a seeded 5% chance of
// Reject. They do not run the Avalanche decision chain (validation,
// metastability resolution, priority tuple).
func wireVotingPeers(sampler *peer.InMemorySampler, ledger *dag.Ledger) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 5; i++ {
		i := i
		sampler.Register(peer.Handle(fmt.Sprintf("peer-%d", i)), func(_ context.Context, tx dag.Transaction) peer.Vote {
			local, ok := ledger.Get(tx.Id)
			if !ok {
				return peer.VoteReject
			}
			if local.Status == dag.Confirmed {
				return peer.VoteAccept
			}
			if local.Status == dag.Rejected {
				return peer.VoteReject
			}
			if rnd.Float64() < 0.05 {
				return peer.VoteReject
			}
			return peer.VoteAccept
		})
	}
}
