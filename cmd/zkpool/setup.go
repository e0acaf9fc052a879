package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kysee/zkpool/zk-pool/circuit"
	"github.com/kysee/zkpool/zk-pool/node"
	"github.com/kysee/zkpool/zk-pool/types"
	"github.com/spf13/cobra"
)

func newSetupCmd(loadConfig func() *node.Config) *cobra.Command {
	var shapes []uint

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Compile the transaction circuits and generate Groth16 keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			logger := cfg.Logger()

			for _, n := range shapes {
				shape := types.ProofShape(n)
				if !shape.Valid() {
					return fmt.Errorf("unsupported shape %d", n)
				}
				start := time.Now()
				keys, err := circuit.Setup(shape, cfg.Levels)
				if err != nil {
					return err
				}
				if err := keys.Save(cfg.KeyDir); err != nil {
					return fmt.Errorf("save %s keys: %w", shape, err)
				}
				logger.Info().
					Stringer("shape", shape).
					Int("levels", cfg.Levels).
					Int("constraints", keys.CS.GetNbConstraints()).
					Dur("elapsed", time.Since(start)).
					Str("dir", cfg.KeyDir).
					Msg("keys generated")
			}
			return nil
		},
	}
	cmd.Flags().UintSliceVar(&shapes, "shapes", []uint{uint(types.TwoInput), uint(types.SixteenInput)}, "Input counts of the circuits to set up")
	return cmd
}

func newExportVerifierCmd(loadConfig func() *node.Config) *cobra.Command {
	var (
		shape uint
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export-verifier",
		Short: "Write the Solidity verifier of a circuit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			vk, err := circuit.LoadVerifyingKey(cfg.KeyDir, types.ProofShape(shape))
			if err != nil {
				return fmt.Errorf("load verifying key (run setup first): %w", err)
			}
			if out == "" {
				out = filepath.Join(cfg.KeyDir, fmt.Sprintf("Verifier%d.sol", shape))
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := circuit.ExportSolidity(vk, f); err != nil {
				return err
			}
			fmt.Printf("verifier written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().UintVar(&shape, "shape", uint(types.TwoInput), "Input count of the circuit")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default <key_dir>/Verifier<shape>.sol)")
	return cmd
}
