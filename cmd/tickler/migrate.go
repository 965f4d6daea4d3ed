package main

import (
	"github.com/spf13/cobra"

	"github.com/nadmax/tickler/internal/config"
	"github.com/nadmax/tickler/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long:  `Creates the scheduling tables if they do not exist. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		log := logging.New(cfg.Log)

		repo, err := openRepository(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()

		if err := repo.Migrate(cmd.Context()); err != nil {
			return err
		}

		log.Info().Msg("schema applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
