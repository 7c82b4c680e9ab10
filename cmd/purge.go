package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openshelf/bibcat/internal/model"
)

var purgeBarcode string

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every fact for one item",
	Long:  "Removes all facts asserted for an item so the next enrichment run rebuilds it from scratch. Maintenance only; the normal flow never deletes facts.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("purge"); err != nil {
			return err
		}

		barcode := model.NormalizeBarcode(purgeBarcode)
		if err := model.ValidateBarcode(barcode); err != nil {
			return eris.Wrapf(err, "invalid barcode %q", purgeBarcode)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.PurgeFacts(ctx, barcode)
		if err != nil {
			return err
		}

		zap.L().Info("facts purged",
			zap.String("item", barcode),
			zap.Int("dropped", n),
		)
		return nil
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgeBarcode, "item", "", "item barcode (required)")
	_ = purgeCmd.MarkFlagRequired("item")
	rootCmd.AddCommand(purgeCmd)
}
