package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

// -- Test Cases: Factory Initialization (NewClient) --

// Verifies that the factory builds a router from the models map.
func TestNewClient_Success_RouterInitialization(t *testing.T) {
	logger := setupTestLogger(t)

	fastConfig := getValidLLMConfig()
	fastConfig.Model = "gemini-flash"
	fastConfig.APIKey = "key-fast"

	powerfulConfig := getValidLLMConfig()
	powerfulConfig.Model = "gemini-pro"
	powerfulConfig.APIKey = "key-powerful"

	const fastName = "FastAlias"
	const powerfulName = "PowerfulAlias"

	cfg := config.LLMRouterConfig{
		DefaultFastModel:     fastName,
		DefaultPowerfulModel: powerfulName,
		Models: map[string]config.LLMModelConfig{
			fastName:     fastConfig,
			powerfulName: powerfulConfig,
		},
		RequestsPerMinute: 30,
	}

	client, err := NewClient(context.Background(), cfg, logger, nil)
	require.NoError(t, err, "NewClient should succeed for a valid configuration")
	t.Cleanup(func() { client.Close() })

	router, ok := client.(*LLMRouter)
	require.True(t, ok, "The created client should be of type *LLMRouter")
	assert.NotNil(t, router.limiter)

	fastClient, okFast := router.clients[schemas.TierFast].(*GoogleClient)
	require.True(t, okFast, "Fast client should be an instance of *GoogleClient")
	assert.Equal(t, "gemini-flash", fastClient.config.Model)
	assert.Equal(t, "key-fast", fastClient.config.APIKey)

	powerfulClient, okPowerful := router.clients[schemas.TierPowerful].(*GoogleClient)
	require.True(t, okPowerful, "Powerful client should be an instance of *GoogleClient")
	assert.Equal(t, "gemini-pro", powerfulClient.config.Model)
	assert.Equal(t, "key-powerful", powerfulClient.config.APIKey)
}

// Unmapped names are used as Gemini model ids with the shared key.
func TestNewClient_BareModelNames(t *testing.T) {
	cfg := config.LLMRouterConfig{
		DefaultFastModel:     "gemini-2.5-flash",
		DefaultPowerfulModel: "gemini-2.5-pro",
		APIKey:               "shared-key",
	}

	client, err := NewClient(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	router := client.(*LLMRouter)
	fast := router.clients[schemas.TierFast].(*GoogleClient)
	assert.Equal(t, "gemini-2.5-flash", fast.config.Model)
	assert.Equal(t, "shared-key", fast.config.APIKey)
	assert.Equal(t, config.ProviderGemini, fast.config.Provider)
	assert.Nil(t, router.limiter)
}

func TestNewClient_Failures(t *testing.T) {
	valid := getValidLLMConfig()
	unsupported := getValidLLMConfig()
	unsupported.Provider = "openai"
	noKey := getValidLLMConfig()
	noKey.APIKey = ""

	tests := []struct {
		name    string
		cfg     config.LLMRouterConfig
		wantErr string
	}{
		{
			name:    "missing fast model",
			cfg:     config.LLMRouterConfig{DefaultPowerfulModel: "p", Models: map[string]config.LLMModelConfig{"p": valid}},
			wantErr: "failed to create fast tier client: no model configured",
		},
		{
			name:    "unsupported provider",
			cfg:     config.LLMRouterConfig{DefaultFastModel: "f", DefaultPowerfulModel: "f", Models: map[string]config.LLMModelConfig{"f": unsupported}},
			wantErr: "unknown or unsupported LLM provider configured: 'openai'",
		},
		{
			name:    "powerful tier without key",
			cfg:     config.LLMRouterConfig{DefaultFastModel: "f", DefaultPowerfulModel: "p", Models: map[string]config.LLMModelConfig{"f": valid, "p": noKey}},
			wantErr: "failed to create powerful tier client: Google/Gemini API Key is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.cfg, setupTestLogger(t), nil)
			assert.Nil(t, client)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
