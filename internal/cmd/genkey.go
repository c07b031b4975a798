package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xpg/keyserver/internal/config"
	"github.com/xpg/keyserver/internal/storage"
	"go.uber.org/zap"
)

var (
	genLifetime bool
	genUses     int
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a key directly against the data directory",
	Long: `Generate a free or lifetime key without going through the admin API.
Only safe while the server is not running against the same data directory.`,
	RunE: runGenkey,
}

func init() {
	rootCmd.AddCommand(genkeyCmd)

	genkeyCmd.Flags().BoolVar(&genLifetime, "lifetime", false, "generate a lifetime key instead of a free key")
	genkeyCmd.Flags().IntVar(&genUses, "uses", 3, "use count for a free key")
}

func runGenkey(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	inv, err := storage.NewKeyInventory(storage.NewFileStore(cfg.Storage.DataDir), zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to open key inventory: %w", err)
	}

	if genLifetime {
		key, err := inv.GenerateLifetime()
		if err != nil {
			return err
		}
		fmt.Printf("💎 Lifetime key created: %s\n", key.ID)
		return nil
	}

	key, err := inv.GenerateFree(genUses)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Free key created: %s (uses: %d)\n", key.ID, key.UsesRemaining)
	return nil
}
