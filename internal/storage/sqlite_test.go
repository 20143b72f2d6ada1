package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oselz/taxon/internal/model"
)

const testOrg = "org-1"

// createTestStorage returns a migrated in-memory store.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedTestItems(t *testing.T, store *SQLiteStorage, count int) []string {
	t.Helper()

	ctx := context.Background()
	base := time.Now().Add(-24 * time.Hour).UTC()
	ids := make([]string, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("item-%03d", i+1)
		err := store.SeedItem(ctx, testOrg, &model.EnrichedItem{
			ID:           id,
			Name:         fmt.Sprintf("Widget %d", i+1),
			SKU:          fmt.Sprintf("SKU-%03d", i+1),
			SupplierName: fmt.Sprintf("Supplier %d", (i%3)+1),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func seedTestTargets(t *testing.T, store *SQLiteStorage, kind model.ItemKind, names ...string) []string {
	t.Helper()

	ctx := context.Background()
	ids := make([]string, len(names))
	for i, name := range names {
		id := fmt.Sprintf("%s-%d", kind, i+1)
		err := store.SeedTarget(ctx, testOrg, kind, model.TargetValue{
			ID:   id,
			Name: name,
			Path: name,
		})
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestNewSQLiteStorageInMemory(t *testing.T) {
	store := createTestStorage(t)

	count, err := store.CountEligibleItems(context.Background(), testOrg, model.JobFilters{})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	seedTestItems(t, store, 1)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkProcessing(ctx, []string{"item-001"}))
	require.NoError(t, tx.Commit())

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.WriteItemError(ctx, "item-001", "boom"))
	require.NoError(t, tx.Rollback())

	item, err := store.GetItem(ctx, "item-001")
	require.NoError(t, err)
	assert.Equal(t, "Widget 1", item.Name)
}
