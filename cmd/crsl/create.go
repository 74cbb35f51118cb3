package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crsl-dev/crsl/oplog"
	"github.com/crsl-dev/crsl/repo"
)

var createAuthor string

var createCmd = &cobra.Command{
	Use:   "create <content>",
	Short: "Create a new genesis record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := repoRootOrFail()
		r, cfg, closeStore := openRepository(rootCtx, root)
		defer closeStore()

		author := createAuthor
		if author == "" {
			author = cfg.Author
		}

		id, err := repo.NewOperationID()
		if err != nil {
			fail("generating operation id: %v", err)
		}

		c, err := r.Commit(rootCtx, oplog.Operation[repo.Payload]{
			ID:      id,
			Kind:    oplog.KindCreate,
			Payload: args[0],
			Author:  author,
		})
		if err != nil {
			fail("%v", err)
		}

		if jsonOutput {
			outputJSON(map[string]string{"genesis": c.String()})
			return
		}
		fmt.Println(c.String())
	},
}

func init() {
	createCmd.Flags().StringVar(&createAuthor, "author", "", "commit author (defaults to repository's configured author)")
}
