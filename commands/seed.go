package commands

import (
	"fmt"
	"os"
	"strings"

	"branch-orders-api/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	seedConfigPath   string
	seedBranches     []string
	seedBranchesFile string
	seedMenu         bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Provision branches and the sample menu",
	Long: `Provision branch credentials and the read-only menu.

Each branch gets its own bcrypt-hashed password. Branches come from repeated
--branch "Name:email:password" flags or from a YAML file listing name, email
and password entries. Re-running updates the password of existing branches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(seedConfigPath)
		if err != nil {
			return err
		}
		config.Apply(cfg)
		if err := config.InitDB(cfg.DBPath); err != nil {
			return err
		}

		seeds, err := branchSeeds(seedBranches, seedBranchesFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, s := range seeds {
			branch, err := config.SeedBranch(config.DB, s)
			if err != nil {
				return err
			}
			success(out, "branch %s <%s> (%s)", branch.Name, branch.Email, branch.ID)
		}

		if seedMenu {
			n, err := config.SeedMenu(config.DB)
			if err != nil {
				return err
			}
			if n == 0 {
				warning(out, "menu already present, left unchanged")
			} else {
				success(out, "menu seeded with %d items", n)
			}
		}
		return nil
	},
}

func branchSeeds(flags []string, file string) ([]config.BranchSeed, error) {
	var seeds []config.BranchSeed
	for _, f := range flags {
		parts := strings.SplitN(f, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid --branch %q, want Name:email:password", f)
		}
		seeds = append(seeds, config.BranchSeed{Name: parts[0], Email: parts[1], Password: parts[2]})
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read branches file: %w", err)
		}
		var fromFile []config.BranchSeed
		if err := yaml.Unmarshal(raw, &fromFile); err != nil {
			return nil, fmt.Errorf("failed to parse branches file: %w", err)
		}
		seeds = append(seeds, fromFile...)
	}
	return seeds, nil
}

func init() {
	seedCmd.Flags().StringVarP(&seedConfigPath, "config", "c", "", "path to a YAML config file")
	seedCmd.Flags().StringArrayVar(&seedBranches, "branch", nil, `branch to provision as "Name:email:password" (repeatable)`)
	seedCmd.Flags().StringVar(&seedBranchesFile, "branches-file", "", "YAML file listing branches to provision")
	seedCmd.Flags().BoolVar(&seedMenu, "menu", true, "seed the sample menu when none exists")
}
