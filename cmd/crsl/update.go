package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crsl-dev/crsl/cid"
	"github.com/crsl-dev/crsl/oplog"
	"github.com/crsl-dev/crsl/repo"
)

var (
	updateGenesis string
	updateParents []string
	updateAuthor  string
)

var updateCmd = &cobra.Command{
	Use:   "update <content>",
	Short: "Append an update to a record's history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if updateGenesis == "" {
			fail("--genesis is required")
		}
		genesis, err := cid.FromString(updateGenesis)
		if err != nil {
			fail("invalid --genesis CID: %v", err)
		}

		parents := make([]cid.CID, 0, len(updateParents))
		for _, p := range updateParents {
			pc, err := cid.FromString(p)
			if err != nil {
				fail("invalid --parent CID %q: %v", p, err)
			}
			parents = append(parents, pc)
		}

		root := repoRootOrFail()
		r, cfg, closeStore := openRepository(rootCtx, root)
		defer closeStore()

		author := updateAuthor
		if author == "" {
			author = cfg.Author
		}

		id, err := repo.NewOperationID()
		if err != nil {
			fail("generating operation id: %v", err)
		}

		op := oplog.Operation[repo.Payload]{
			ID:      id,
			Genesis: genesis,
			Kind:    oplog.KindUpdate,
			Payload: args[0],
			Parents: parents,
			Author:  author,
		}

		c, err := r.Commit(rootCtx, op)
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
	updateCmd.Flags().StringVar(&updateGenesis, "genesis", "", "genesis CID of the record to update (required)")
	updateCmd.Flags().StringArrayVar(&updateParents, "parent", nil, "explicit parent CID (repeatable); defaults to auto-merge of current heads")
	updateCmd.Flags().StringVar(&updateAuthor, "author", "", "commit author (defaults to repository's configured author)")
}
