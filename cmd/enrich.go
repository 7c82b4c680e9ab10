package main

import (
	"encoding/csv"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openshelf/bibcat/internal/driver"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/reconcile"
	"github.com/openshelf/bibcat/internal/state"
)

var (
	enrichItemsPath   string
	enrichLimit       int
	enrichConcurrency int
	enrichAdapters    []string
	enrichPolicyPath  string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run the enrichment batch over an item list",
	Long:  "Reads items from a CSV (or bare barcode list), queries the enabled providers for each item not yet completed, reconciles the answers, and writes canonical records. Rerunning resumes where the last run stopped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if enrichConcurrency > 0 {
			cfg.Batch.Concurrency = enrichConcurrency
		}
		if enrichPolicyPath != "" {
			cfg.Reconcile.PolicyPath = enrichPolicyPath
		}
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		items, err := loadItems(enrichItemsPath, enrichLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return eris.Errorf("no valid items in %s", enrichItemsPath)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		policy := reconcile.DefaultPolicy()
		if cfg.Reconcile.PolicyPath != "" {
			policy, err = reconcile.LoadPolicy(cfg.Reconcile.PolicyPath)
			if err != nil {
				return err
			}
		}

		sources := enrichAdapters
		if len(sources) == 0 {
			sources = cfg.Providers.Enabled
		}
		adapters, err := newRegistry(st).Select(sources)
		if err != nil {
			return err
		}

		d := driver.New(driver.Options{
			Store:       st,
			Tracker:     state.NewTracker(st),
			Engine:      reconcile.NewEngine(policy),
			Adapters:    adapters,
			Concurrency: cfg.Batch.Concurrency,
		})

		res, err := d.Run(ctx, items)
		if err != nil {
			return err
		}

		zap.L().Info("batch complete",
			zap.Int("total", res.Total),
			zap.Int("skipped", res.Skipped),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
		if res.Failed > 0 {
			return eris.Errorf("%d of %d items failed: %s",
				res.Failed, res.Total, strings.Join(res.FailedItems, ", "))
		}
		return nil
	},
}

// loadItems reads an item CSV. A header row maps the columns (barcode,
// title, author, isbn, call_number in any order); without one, the file is
// treated as a bare barcode list. Rows with invalid barcodes are skipped
// with a warning rather than aborting the batch.
func loadItems(path string, limit int) ([]model.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open items file %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		items   []model.Item
		columns map[string]int
		skipped int
		first   = true
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read items csv")
		}

		if first {
			first = false
			if cols := headerColumns(record); cols != nil {
				columns = cols
				continue
			}
		}

		item := itemFromRecord(record, columns)
		item.Barcode = model.NormalizeBarcode(item.Barcode)
		if err := model.ValidateBarcode(item.Barcode); err != nil {
			skipped++
			zap.L().Warn("skipping invalid barcode",
				zap.String("barcode", item.Barcode),
				zap.Error(err),
			)
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}

	if skipped > 0 {
		zap.L().Warn("some rows were skipped", zap.Int("skipped", skipped))
	}
	return items, nil
}

// headerColumns recognizes a header row and returns its column positions,
// or nil when the row is data.
func headerColumns(record []string) map[string]int {
	cols := make(map[string]int, len(record))
	for i, name := range record {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["barcode"]; !ok {
		return nil
	}
	return cols
}

func itemFromRecord(record []string, columns map[string]int) model.Item {
	field := func(name string, fallback int) string {
		idx, ok := -1, false
		if columns != nil {
			idx, ok = columnIndex(columns, name)
		}
		if !ok {
			idx = fallback
		}
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	return model.Item{
		Barcode:    field("barcode", 0),
		Title:      field("title", 1),
		Author:     field("author", 2),
		ISBN:       field("isbn", 3),
		CallNumber: field("call_number", 4),
	}
}

func columnIndex(columns map[string]int, name string) (int, bool) {
	idx, ok := columns[name]
	return idx, ok
}

func init() {
	enrichCmd.Flags().StringVar(&enrichItemsPath, "items", "", "path to item CSV or barcode list (required)")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "process at most N items (0 = all)")
	enrichCmd.Flags().IntVar(&enrichConcurrency, "concurrency", 0, "worker pool size (default from config)")
	enrichCmd.Flags().StringSliceVar(&enrichAdapters, "adapters", nil, "adapters to run (default from config)")
	enrichCmd.Flags().StringVar(&enrichPolicyPath, "policy", "", "source-policy YAML (default from config)")
	_ = enrichCmd.MarkFlagRequired("items")
	rootCmd.AddCommand(enrichCmd)
}
