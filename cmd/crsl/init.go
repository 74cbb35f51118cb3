package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crsl-dev/crsl/internal/config"
)

var (
	initStore  string
	initAuthor string
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a crsl repository in the current directory",
	Long: `Initialize crsl in the current directory by creating a .crsl/ marker
directory holding the repository's config.yaml (spec §6.3). With the
default bolt backend, the store/ data file inside it is created the first
time another command opens the repository.`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fail("determining working directory: %v", err)
		}

		if _, err := os.Stat(config.ConfigPath(cwd)); err == nil && !initForce {
			fail("%s already exists (use --force to reinitialize)", config.ConfigPath(cwd))
		}

		global := globalDefaults()

		cfg := config.DefaultRepoConfig()
		switch {
		case initStore != "":
			cfg.Store = initStore
		case global.Store != "":
			cfg.Store = global.Store
		}
		cfg.Author = initAuthor
		if cfg.Author == "" {
			cfg.Author = global.Author
		}
		if global.DefaultPolicy != "" {
			cfg.DefaultPolicy = global.DefaultPolicy
		}

		if err := cfg.Save(cwd); err != nil {
			fail("writing repository config: %v", err)
		}

		wrote, err := config.WriteDefaultGlobalConfig(config.GlobalConfig{
			Store:         cfg.Store,
			Author:        cfg.Author,
			DefaultPolicy: cfg.DefaultPolicy,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not write default ~/.crslrc.toml: %v\n", err)
		} else if wrote && !jsonOutput {
			fmt.Println("Wrote default global config to ~/.crslrc.toml")
		}

		if jsonOutput {
			outputJSON(map[string]string{"repo_root": cwd, "store": cfg.Store})
			return
		}
		fmt.Printf("Initialized empty crsl repository in %s\n", config.ConfigPath(cwd))
	},
}

func init() {
	initCmd.Flags().StringVar(&initStore, "store", "", "store backend to use (mem, bolt, sql); defaults to bolt")
	initCmd.Flags().StringVar(&initAuthor, "author", "", "default commit author for this repository")
	initCmd.Flags().BoolVar(&initForce, "force", false, "reinitialize even if a config already exists")
}
