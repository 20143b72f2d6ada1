package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/batch"
	"github.com/oselz/taxon/internal/engine"
	"github.com/oselz/taxon/internal/job"
	"github.com/oselz/taxon/internal/llm"
	"github.com/oselz/taxon/internal/model"
	"github.com/oselz/taxon/internal/progress"
	"github.com/oselz/taxon/internal/storage"
)

// openStorage opens the configured SQLite database.
func openStorage() (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".local", "share", "taxon", "taxon.db")
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// buildManager wires the full classification stack over an open store.
// The returned adapter must be closed when the command finishes.
func buildManager(store *storage.SQLiteStorage) (*job.Manager, *llm.Adapter) {
	adapter := llm.NewAdapter(llm.AdapterOptions{
		AllowModelSubstitution: viper.GetBool("ai.allow_model_substitution"),
	})
	dispatcher := batch.NewDispatcher(adapter)
	resolver := aiconfig.NewResolver(store)
	eng := engine.New(store, resolver, dispatcher)
	tracker := progress.NewTracker(store)
	return job.NewManager(store, eng, tracker), adapter
}

// jobFiltersFromFlags reads the shared item-selection flags.
func jobFiltersFromFlags(cmd *cobra.Command) model.JobFilters {
	supplier, _ := cmd.Flags().GetString("supplier")
	category, _ := cmd.Flags().GetString("category")
	search, _ := cmd.Flags().GetString("search")
	uncategorized, _ := cmd.Flags().GetBool("uncategorized")
	return model.JobFilters{
		SupplierID:    supplier,
		CategoryID:    category,
		Search:        search,
		Uncategorized: uncategorized,
	}
}

// jobConfigFromFlags reads the shared job-tuning flags over the defaults.
func jobConfigFromFlags(cmd *cobra.Command) model.JobConfig {
	cfg := model.DefaultJobConfig()
	if cmd.Flags().Changed("threshold") {
		cfg.ConfidenceThreshold, _ = cmd.Flags().GetFloat64("threshold")
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.MaxRetries, _ = cmd.Flags().GetInt("max-retries")
	}
	if cmd.Flags().Changed("limit") {
		cfg.ItemLimit, _ = cmd.Flags().GetInt("limit")
	}
	force, _ := cmd.Flags().GetBool("force")
	cfg.Force = force
	return cfg
}

// addJobFlags registers the flags shared by classify, jobs create, and
// schedule.
func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().String("org", "", "organization ID (required)")
	cmd.Flags().String("kind", string(model.KindCategory), "classification kind (category, tag)")
	cmd.Flags().String("supplier", "", "only items from this supplier")
	cmd.Flags().String("category", "", "only items currently in this category")
	cmd.Flags().String("search", "", "only items matching this text")
	cmd.Flags().Bool("uncategorized", false, "only items without a category")
	cmd.Flags().Float64("threshold", 0.7, "confidence threshold for applying suggestions")
	cmd.Flags().Int("max-retries", 3, "batch failures tolerated before the job fails")
	cmd.Flags().Int("limit", 0, "maximum items to process (0 = all)")
	cmd.Flags().Int("batch-size", 0, "items per batch (0 = default)")
	cmd.Flags().Bool("force", false, "reclassify even confidently categorized items")
	_ = cmd.MarkFlagRequired("org")
}

func kindFromFlags(cmd *cobra.Command) (model.ItemKind, error) {
	raw, _ := cmd.Flags().GetString("kind")
	switch model.ItemKind(raw) {
	case model.KindCategory:
		return model.KindCategory, nil
	case model.KindTag:
		return model.KindTag, nil
	default:
		return "", fmt.Errorf("invalid kind %q (want category or tag)", raw)
	}
}
