package common

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-x")
	t.Setenv("EXTRACT_CONCURRENCY", "8")
	t.Setenv("OPENAI_TIMEOUT", "5s")
	t.Setenv("OPENAI_TEMPERATURE", "0.5")
	t.Setenv("MAX_UPLOAD_MB", "not-a-number")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, "5s", cfg.LLM.Timeout.String())
	assert.InDelta(t, 0.5, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, int64(32)<<20, cfg.Server.MaxUploadBytes)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := LoadConfig()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.True(t, HasCode(err, "CONFIG_ERROR"))

	cfg.LLM.APIKey = "k"
	cfg.Pipeline.Concurrency = 0
	require.Error(t, cfg.Validate())

	cfg.Pipeline.Concurrency = 1
	cfg.Server.HTTPAddr, cfg.Server.GRPCAddr = "", ""
	require.Error(t, cfg.ValidateServer())
}

func TestInputValidator(t *testing.T) {
	v := NewInputValidator().
		Field("text", "  ", Required).
		Field("label", "abcdef", MaxLength(3)).
		Field("id", "nope", UUID).
		Field("documents", 5, MaxItems(10))
	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 3)
	require.True(t, errors.Is(v.Err(), ErrInvalidInput))

	assert.NoError(t, NewInputValidator().Field("id", uuid.NewString(), Required, UUID).Err())
}

func TestContextIDs(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	require.NotEmpty(t, id)
	ctx2, id2 := EnsureRequestID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, ctx2)

	bid := uuid.New()
	got, ok := BatchIDFromContext(WithBatchID(ctx, bid))
	require.True(t, ok)
	assert.Equal(t, bid, got)
	assert.NotNil(t, LoggerFrom(ctx, nil))
}
