package cli

import (
	"log/slog"

	"github.com/ashureev/techscreen/internal/config"
	"github.com/ashureev/techscreen/internal/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(_ *cobra.Command, args []string) error {
		newLogger(slog.LevelInfo)
		dbPath := config.DatabasePath()
		if err := store.Migrate(dbPath, args[0]); err != nil {
			return err
		}
		slog.Info("Migration complete", "direction", args[0], "db_path", dbPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
