package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/oplog"
	"github.com/crsl-dev/crsl/repo"
)

var (
	deleteGenesis string
	deleteParents []string
	deleteAuthor  string
)

// deleteCmd is additive (spec.md §6.5 lists only init/create/update/show/
// history): repo.Repository already supports KindDelete end to end, so
// exposing it is another thin, no-logic wrapper in the same shape as
// updateCmd.
var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Mark a record as deleted, carrying its last payload forward",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if deleteGenesis == "" {
			fail("--genesis is required")
		}
		genesis, err := cid.FromString(deleteGenesis)
		if err != nil {
			fail("invalid --genesis CID: %v", err)
		}

		parents := make([]cid.CID, 0, len(deleteParents))
		for _, p := range deleteParents {
			pc, err := cid.FromString(p)
			if err != nil {
				fail("invalid --parent CID %q: %v", p, err)
			}
			parents = append(parents, pc)
		}

		root := repoRootOrFail()
		r, cfg, closeStore := openRepository(rootCtx, root)
		defer closeStore()

		author := deleteAuthor
		if author == "" {
			author = cfg.Author
		}

		id, err := repo.NewOperationID()
		if err != nil {
			fail("generating operation id: %v", err)
		}

		c, err := r.Commit(rootCtx, oplog.Operation[repo.Payload]{
			ID:      id,
			Genesis: genesis,
			Kind:    oplog.KindDelete,
			Parents: parents,
			Author:  author,
		})
		if err != nil {
			fail("%v", err)
		}

		if jsonOutput {
			outputJSON(map[string]string{"cid": c.String()})
			return
		}
		fmt.Println(c.String())
	},
}

func init() {
	deleteCmd.Flags().StringVar(&deleteGenesis, "genesis", "", "genesis CID of the record to delete (required)")
	deleteCmd.Flags().StringArrayVar(&deleteParents, "parent", nil, "explicit parent CID (repeatable); defaults to auto-merge of current heads")
	deleteCmd.Flags().StringVar(&deleteAuthor, "author", "", "commit author (defaults to repository's configured author)")
}
