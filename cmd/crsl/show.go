package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crsl-dev/crsl/cid"
)

var showCmd = &cobra.Command{
	Use:   "show <CID>",
	Short: "Show a single DAG node's payload, parents and timestamp",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := cid.FromString(args[0])
		if err != nil {
			fail("invalid CID: %v", err)
		}

		root := repoRootOrFail()
		r, _, closeStore := openRepository(rootCtx, root)
		defer closeStore()

		n, err := r.GetNode(rootCtx, c)
		if err != nil {
			fail("%v", err)
		}
		genesis, err := r.GetGenesis(rootCtx, c)
		if err != nil {
			fail("%v", err)
		}

		if jsonOutput {
			parents := make([]string, len(n.Parents))
			for i, p := range n.Parents {
				parents[i] = p.String()
			}
			outputJSON(map[string]any{
				"cid":       c.String(),
				"genesis":   genesis.String(),
				"payload":   n.Payload,
				"parents":   parents,
				"timestamp": n.Timestamp,
				"policy":    n.Metadata.Policy(),
			})
			return
		}

		fmt.Printf("cid:       %s\n", c)
		fmt.Printf("genesis:   %s\n", genesis)
		fmt.Printf("payload:   %s\n", n.Payload)
		fmt.Printf("timestamp: %d\n", n.Timestamp)
		fmt.Printf("policy:    %s\n", n.Metadata.Policy())
		fmt.Printf("parents:   ")
		if len(n.Parents) == 0 {
			fmt.Println("(none, genesis)")
		} else {
			for i, p := range n.Parents {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Print(p.String())
			}
			fmt.Println()
		}
	},
}
