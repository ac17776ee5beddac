package main

import (
	"encoding/json"
	"os"

	"callcore/internal/infrastructure/repositories"

	"github.com/spf13/cobra"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent calls from the configured history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
			if err != nil {
				return err
			}
			defer repoFactory.Close()

			records, err := repoFactory.CreateHistoryRepository().List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of calls to print")
	return cmd
}
