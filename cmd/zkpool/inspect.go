package main

import (
	"fmt"

	"github.com/kysee/zkpool/zk-pool/merkle"
	"github.com/kysee/zkpool/zk-pool/node"
	"github.com/kysee/zkpool/zk-pool/nullifier"
	"github.com/kysee/zkpool/zk-pool/store"
	"github.com/spf13/cobra"
)

func newInspectCmd(loadConfig func() *node.Config) *cobra.Command {
	var leaves bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted state of a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if cfg.DataDir == "" {
				return fmt.Errorf("config has no data_dir")
			}
			st, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := st.Load()
			if err != nil {
				return err
			}
			tree, err := merkle.Restore(state.Tree)
			if err != nil {
				return err
			}
			nfs, err := nullifier.FromList(state.Nullifiers)
			if err != nil {
				return err
			}
			pending, err := st.PendingUnwraps()
			if err != nil {
				return err
			}

			root := tree.CurrentRoot()
			fmt.Printf("Pool %s\n", cfg.DataDir)
			fmt.Printf("  Levels:          %d (capacity %d)\n", tree.Levels(), tree.Capacity())
			fmt.Printf("  Root history:    %d\n", tree.RootHistorySize())
			fmt.Printf("  Next index:      %d\n", tree.NextIndex())
			fmt.Printf("  Current root:    0x%x\n", root.Marshal())
			fmt.Printf("  Nullifiers:      %d (digest 0x%x)\n", nfs.Len(), nfs.Digest())
			fmt.Printf("  Balance:         %s\n", state.Balance.Dec())
			fmt.Printf("  Pending unwraps: %d\n", len(pending))
			for _, req := range pending {
				fmt.Printf("    #%d %s -> %s attempts=%d last_error=%q\n", req.ID, req.Amount, req.Recipient.Hex(), req.Attempts, req.LastError)
			}
			if leaves {
				for i, leaf := range tree.Leaves() {
					fmt.Printf("  [%d] 0x%x\n", i, leaf.Marshal())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&leaves, "leaves", false, "Also print every commitment")
	return cmd
}
