package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oselz/taxon/internal/aiconfig"
	"github.com/oselz/taxon/internal/common"
	"github.com/oselz/taxon/internal/model"
)

// callLog is shared between a fake client and its WithModel clones so tests
// observe calls made on substituted models too.
type callLog struct {
	structuredCalls  int
	textCalls        int
	structuredModels []string
}

// fakeClient scripts provider responses for adapter tests.
type fakeClient struct {
	calls           *callLog
	name            string
	model           string
	structuredResp  string
	structuredErr   error
	textResp        string
	textErr         error
	waitForDeadline bool
}

func (f *fakeClient) log() *callLog {
	if f.calls == nil {
		f.calls = &callLog{}
	}
	return f.calls
}

func (f *fakeClient) Name() string  { return f.name }
func (f *fakeClient) Model() string { return f.model }

func (f *fakeClient) GenerateStructured(ctx context.Context, _ string, _ map[string]any) (string, error) {
	log := f.log()
	log.structuredCalls++
	log.structuredModels = append(log.structuredModels, f.model)
	if f.waitForDeadline {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.structuredResp, f.structuredErr
}

func (f *fakeClient) GenerateText(ctx context.Context, _ string) (string, error) {
	f.log().textCalls++
	if f.waitForDeadline {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.textResp, f.textErr
}

func (f *fakeClient) WithModel(model string) Client {
	f.log()
	clone := *f
	clone.model = model
	return &clone
}

func (f *fakeClient) Close() {}

func newTestAdapter(client Client, allowSubstitution bool) *Adapter {
	adapter := NewAdapter(AdapterOptions{AllowModelSubstitution: allowSubstitution})
	adapter.factory = func(Config) (Client, error) { return client, nil }
	return adapter
}

var testProvider = aiconfig.ProviderConfig{
	Name:    "anthropic",
	APIKey:  "sk-test",
	Model:   "claude-3-5-haiku-latest",
	Enabled: true,
}

const validBatchJSON = `{"suggestions": [{"item_id": "item-1", "suggested_target_id": "cat-1", "confidence": 0.9}]}`

func callTestItems() []model.EnrichedItem {
	return []model.EnrichedItem{{ID: "item-1", Name: "Widget"}}
}

func TestAdapterCallSchemaPath(t *testing.T) {
	client := &fakeClient{name: "anthropic", model: "claude-3-5-haiku-latest", structuredResp: validBatchJSON}
	adapter := newTestAdapter(client, false)
	defer adapter.Close()

	suggestions, err := adapter.Call(context.Background(), testProvider, callTestItems(), nil, model.KindCategory, time.Second, false)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "item-1", suggestions[0].ItemID)
	assert.Equal(t, 1, client.log().structuredCalls)
	assert.Equal(t, 0, client.log().textCalls)
}

func TestAdapterCallFallsBackToText(t *testing.T) {
	client := &fakeClient{
		name:          "anthropic",
		model:         "claude-3-5-haiku-latest",
		structuredErr: ErrSchemaUnsupported,
		textResp:      validBatchJSON,
	}
	adapter := newTestAdapter(client, false)
	defer adapter.Close()

	suggestions, err := adapter.Call(context.Background(), testProvider, callTestItems(), nil, model.KindCategory, time.Second, false)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, 1, client.log().structuredCalls)
	assert.Equal(t, 1, client.log().textCalls)
}

func TestAdapterCallSchemaIncapableModelGoesStraightToText(t *testing.T) {
	client := &fakeClient{name: "openai", model: "o1-preview", textResp: validBatchJSON}
	provider := aiconfig.ProviderConfig{Name: "openai", APIKey: "sk", Model: "o1-preview", Enabled: true}
	adapter := newTestAdapter(client, false)
	defer adapter.Close()

	_, err := adapter.Call(context.Background(), provider, callTestItems(), nil, model.KindCategory, time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 0, client.log().structuredCalls)
	assert.Equal(t, 1, client.log().textCalls)
}

func TestAdapterCallSubstitutesModelWhenAllowed(t *testing.T) {
	client := &fakeClient{name: "openai", model: "o1-preview", structuredResp: validBatchJSON}
	provider := aiconfig.ProviderConfig{Name: "openai", APIKey: "sk", Model: "o1-preview", Enabled: true}
	adapter := newTestAdapter(client, true)
	defer adapter.Close()

	_, err := adapter.Call(context.Background(), provider, callTestItems(), nil, model.KindCategory, time.Second, false)
	require.NoError(t, err)
	// The structured call ran on the substituted clone, not the original.
	assert.Equal(t, 1, client.log().structuredCalls)
	assert.Equal(t, 0, client.log().textCalls)
	assert.Equal(t, []string{"gpt-4o-mini"}, client.log().structuredModels)
}

func TestAdapterCallSubstitutesOnPerCallOptIn(t *testing.T) {
	client := &fakeClient{name: "openai", model: "o1-preview", structuredResp: validBatchJSON}
	provider := aiconfig.ProviderConfig{Name: "openai", APIKey: "sk", Model: "o1-preview", Enabled: true}
	// Adapter-level substitution is off; the resolved config opts in per call.
	adapter := newTestAdapter(client, false)
	defer adapter.Close()

	_, err := adapter.Call(context.Background(), provider, callTestItems(), nil, model.KindCategory, time.Second, true)
	require.NoError(t, err)
	assert.Equal(t, 0, client.log().textCalls)
	assert.Equal(t, []string{"gpt-4o-mini"}, client.log().structuredModels)
}

func TestAdapterCallMapsDeadlineToTimeout(t *testing.T) {
	client := &fakeClient{name: "anthropic", model: "claude-3-5-haiku-latest", waitForDeadline: true}
	adapter := newTestAdapter(client, false)
	defer adapter.Close()

	_, err := adapter.Call(context.Background(), testProvider, callTestItems(), nil, model.KindCategory, 20*time.Millisecond, false)
	assert.ErrorIs(t, err, common.ErrProviderTimeout)
}

func TestAdapterCallRateLimitPassesThrough(t *testing.T) {
	client := &fakeClient{
		name:          "anthropic",
		model:         "claude-3-5-haiku-latest",
		structuredErr: common.ErrRateLimit,
	}
	adapter := newTestAdapter(client, false)
	defer adapter.Close()

	_, err := adapter.Call(context.Background(), testProvider, callTestItems(), nil, model.KindCategory, time.Second, false)
	assert.ErrorIs(t, err, common.ErrRateLimit)
}

func TestAdapterCallUnparsableResponse(t *testing.T) {
	client := &fakeClient{
		name:           "anthropic",
		model:          "claude-3-5-haiku-latest",
		structuredResp: "I refuse to answer in JSON.",
	}
	adapter := newTestAdapter(client, false)
	defer adapter.Close()

	_, err := adapter.Call(context.Background(), testProvider, callTestItems(), nil, model.KindCategory, time.Second, false)
	assert.ErrorIs(t, err, common.ErrUnparsableResponse)
}
