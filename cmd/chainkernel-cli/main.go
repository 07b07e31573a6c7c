// Command chainkernel-cli is a thin cobra front end over the chain engine:
// mine a block, append it, query state, and print a sync locator.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chainkernel/core"
	"chainkernel/crypto"
	"chainkernel/engine"
	"chainkernel/pkg/config"
	"chainkernel/policy"
	"chainkernel/render"
	"chainkernel/store"
	"chainkernel/store/memstore"
)

func main() {
	rootCmd := &cobra.Command{Use: "chainkernel-cli"}
	rootCmd.AddCommand(mineCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(locatorCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openEngine opens a store-backed engine for CLI commands. The CLI uses an
// in-process memstore seeded by environment/config, rather than a
// long-running daemon's store: a durable host wires its own store
// implementation and keeps the engine alive across commands instead.
func openEngine() (*engine.Chain, store.Store, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Warn("chainkernel-cli: using built-in defaults, config load failed")
		cfg = &config.Config{}
		cfg.Engine.StartingDifficulty = 1
	}

	st := memstore.New()
	id := core.ChainId{1}
	if _, ok, err := st.GetCanonicalChainID(); err != nil {
		return nil, nil, err
	} else if !ok {
		if err := st.SetCanonicalChainID(id); err != nil {
			return nil, nil, err
		}
	}

	backend := crypto.Secp256k1Backend{}
	pol := policy.FixedDifficultyPolicy{Difficulty: cfg.Engine.StartingDifficulty}
	eng := engine.New(id, st, pol, backend, render.NewDispatcher(logrus.StandardLogger()), logrus.StandardLogger())
	return eng, st, nil
}

func mineCmd() *cobra.Command {
	var minerHex string
	var difficulty int64
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "mine and append a block on top of the current tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openEngine()
			if err != nil {
				return err
			}
			status, err := eng.Status()
			if err != nil {
				return err
			}

			var prevHash *core.HashDigest
			nextIndex := int64(0)
			if status.Length > 0 {
				prevHash = &status.TipHash
				nextIndex = status.TipIndex + 1
			}

			var miner *core.Address
			if minerHex != "" {
				a, err := core.AddressFromHex(minerHex)
				if err != nil {
					return fmt.Errorf("chainkernel-cli: invalid --miner: %w", err)
				}
				miner = &a
			}

			staged, err := st.IterateStagedTxIDs()
			if err != nil {
				return err
			}
			var txs []*core.Transaction
			for id, broadcastable := range staged {
				if !broadcastable {
					continue
				}
				tx, ok, err := st.GetTx(id)
				if err != nil {
					return err
				}
				if ok {
					txs = append(txs, tx)
				}
			}

			blk, err := core.MineBlock(context.Background(), nextIndex, difficulty, prevHash, miner, txs, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := eng.Append(context.Background(), blk); err != nil {
				return err
			}
			fmt.Printf("mined block %d hash=%s nonce=%x\n", blk.Index, blk.Hash, blk.Nonce)
			return nil
		},
	}
	cmd.Flags().StringVar(&minerHex, "miner", "", "hex-encoded miner address")
	cmd.Flags().Int64Var(&difficulty, "difficulty", 1, "leading zero bits required of the block hash")
	return cmd
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state [key]",
		Short: "print the current value of a state key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}
			v, ok, err := eng.GetState(core.StateKey(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("<absent>")
				return nil
			}
			fmt.Printf("%#v\n", v)
			return nil
		},
	}
	return cmd
}

func locatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locator",
		Short: "print the sparse sync locator for the current tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}
			hashes, err := eng.Locator()
			if err != nil {
				return err
			}
			for _, h := range hashes {
				fmt.Println(h.String())
			}
			return nil
		},
	}
	return cmd
}
