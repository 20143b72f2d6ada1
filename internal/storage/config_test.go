package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oselz/taxon/internal/common"
)

func TestServiceConfigRoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.GetServiceConfig(ctx, testOrg, "ai-classification")
	assert.ErrorIs(t, err, common.ErrNotFound)

	settings := map[string]any{
		"enabled":  true,
		"provider": "anthropic",
		"api_key":  "sk-test",
	}
	require.NoError(t, store.UpsertServiceConfig(ctx, testOrg, "ai-classification", settings))

	loaded, err := store.GetServiceConfig(ctx, testOrg, "ai-classification")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded["provider"])

	// Upsert replaces the document.
	settings["provider"] = "openai"
	require.NoError(t, store.UpsertServiceConfig(ctx, testOrg, "ai-classification", settings))
	loaded, err = store.GetServiceConfig(ctx, testOrg, "ai-classification")
	require.NoError(t, err)
	assert.Equal(t, "openai", loaded["provider"])
}
