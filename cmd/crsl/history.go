package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crsl-dev/crsl/cid"
)

var (
	historyGenesis string
	historyMode    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Render a record's branching or linear history",
	Long: `Renders a record's history as plain text: "tree" lists every
parent->children edge (spec §4.4's branching history), "linear" walks
the chosen-child path from genesis to the current head. No styled TUI
is used, per the engine's terminal-rendering non-goal.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if historyGenesis == "" {
			fail("--genesis is required")
		}
		genesis, err := cid.FromString(historyGenesis)
		if err != nil {
			fail("invalid --genesis CID: %v", err)
		}

		root := repoRootOrFail()
		r, _, closeStore := openRepository(rootCtx, root)
		defer closeStore()

		switch historyMode {
		case "", "tree":
			edges, err := r.BranchingHistory(rootCtx, genesis)
			if err != nil {
				fail("%v", err)
			}
			if jsonOutput {
				type edgeJSON struct {
					Parent   string   `json:"parent"`
					Children []string `json:"children"`
				}
				out := make([]edgeJSON, len(edges))
				for i, e := range edges {
					children := make([]string, len(e.Children))
					for j, c := range e.Children {
						children[j] = c.String()
					}
					out[i] = edgeJSON{Parent: e.Parent.String(), Children: children}
				}
				outputJSON(out)
				return
			}
			for _, e := range edges {
				fmt.Printf("%s\n", e.Parent)
				for _, c := range e.Children {
					fmt.Printf("  -> %s\n", c)
				}
			}
		case "linear":
			chain, err := r.LinearHistory(rootCtx, genesis)
			if err != nil {
				fail("%v", err)
			}
			if jsonOutput {
				out := make([]string, len(chain))
				for i, c := range chain {
					out[i] = c.String()
				}
				outputJSON(out)
				return
			}
			for _, c := range chain {
				fmt.Println(c)
			}
		default:
			fail("unknown --mode %q (want tree or linear)", historyMode)
		}
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyGenesis, "genesis", "", "genesis CID of the record's history to render (required)")
	historyCmd.Flags().StringVar(&historyMode, "mode", "tree", "history rendering mode: tree or linear")
}
