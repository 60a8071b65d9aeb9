package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistant-guard/internal/domain"
	"assistant-guard/internal/storage"
)

func newTestRegistry() (domain.ReflinkRegistryService, *storage.MemoryLogStore) {
	logs := storage.NewMemoryLogStore()
	registry := NewReflinkRegistry(storage.NewMemoryReflinkStore(), logs, noopLogger{})
	return registry, logs
}

// TestReflinkRegistry_CreateReflink_TierDefaults testa os limites padrão por tier
func TestReflinkRegistry_CreateReflink_TierDefaults(t *testing.T) {
	tests := []struct {
		name          string
		tier          domain.RateLimitTier
		expectedLimit int
	}{
		{name: "Should default BASIC to 10 requests per day", tier: domain.TierBasic, expectedLimit: 10},
		{name: "Should default STANDARD to 50 requests per day", tier: domain.TierStandard, expectedLimit: 50},
		{name: "Should default PREMIUM to 200 requests per day", tier: domain.TierPremium, expectedLimit: 200},
		{name: "Should default UNLIMITED to -1", tier: domain.TierUnlimited, expectedLimit: domain.UnlimitedDailyLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			registry, _ := newTestRegistry()

			// Act
			reflink, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
				Code: "code-" + string(tt.tier),
				Name: "Test reflink",
				Tier: tt.tier,
			})

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tt.expectedLimit, reflink.DailyLimit)
			assert.Equal(t, tt.tier, reflink.RateLimitTier)
			assert.True(t, reflink.IsActive)
			assert.NotEmpty(t, reflink.ID)
		})
	}
}

// TestReflinkRegistry_CreateReflink_Validation testa a validação da criação
func TestReflinkRegistry_CreateReflink_Validation(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	zero := 0
	negative := -5

	tests := []struct {
		name  string
		input domain.CreateReflinkInput
	}{
		{
			name:  "Should reject empty code",
			input: domain.CreateReflinkInput{Code: "   ", Tier: domain.TierBasic},
		},
		{
			name:  "Should reject unknown tier",
			input: domain.CreateReflinkInput{Code: "good-code", Tier: "PLATINUM"},
		},
		{
			name:  "Should reject zero daily limit",
			input: domain.CreateReflinkInput{Code: "good-code", Tier: domain.TierBasic, DailyLimit: &zero},
		},
		{
			name:  "Should reject negative daily limit other than -1",
			input: domain.CreateReflinkInput{Code: "good-code", Tier: domain.TierBasic, DailyLimit: &negative},
		},
		{
			name:  "Should reject expiration in the past",
			input: domain.CreateReflinkInput{Code: "good-code", Tier: domain.TierBasic, ExpiresAt: &past},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _ := newTestRegistry()

			reflink, err := registry.CreateReflink(context.Background(), tt.input)

			assert.Error(t, err)
			assert.True(t, domain.IsValidationError(err))
			assert.Nil(t, reflink)
		})
	}
}

// TestReflinkRegistry_CreateReflink_DuplicateCode testa a rejeição de código duplicado
func TestReflinkRegistry_CreateReflink_DuplicateCode(t *testing.T) {
	// Arrange
	registry, _ := newTestRegistry()

	_, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
		Code: "friend-code",
		Tier: domain.TierBasic,
	})
	require.NoError(t, err)

	// Act
	_, err = registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
		Code: "friend-code",
		Tier: domain.TierPremium,
	})

	// Assert
	assert.Error(t, err)
	assert.True(t, domain.IsDuplicateCodeError(err))
}

// TestReflinkRegistry_CreateReflink_ExplicitLimit testa o override do limite do tier
func TestReflinkRegistry_CreateReflink_ExplicitLimit(t *testing.T) {
	registry, _ := newTestRegistry()
	limit := 75

	reflink, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
		Code:       "custom-limit",
		Tier:       domain.TierBasic,
		DailyLimit: &limit,
	})

	require.NoError(t, err)
	assert.Equal(t, 75, reflink.DailyLimit)
	assert.Equal(t, domain.TierBasic, reflink.RateLimitTier)
}

// TestReflinkRegistry_ValidateReflink testa a ordem estrita de validação
func TestReflinkRegistry_ValidateReflink(t *testing.T) {
	t.Run("Should report not_found for unknown code", func(t *testing.T) {
		registry, _ := newTestRegistry()

		validation, err := registry.ValidateReflink(context.Background(), "ghost")

		require.NoError(t, err)
		assert.False(t, validation.Valid)
		assert.Equal(t, domain.ReflinkNotFound, validation.Reason)
	})

	t.Run("Should report inactive before checking expiration", func(t *testing.T) {
		// Arrange: reflink desativado E expirado
		registry, _ := newTestRegistry()
		created, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
			Code: "both-bad",
			Tier: domain.TierBasic,
		})
		require.NoError(t, err)

		inactive := false
		expired := time.Now().Add(-time.Hour)
		_, err = registry.UpdateReflink(context.Background(), created.ID, domain.ReflinkPatch{
			IsActive:  &inactive,
			ExpiresAt: &expired,
		})
		require.NoError(t, err)

		// Act
		validation, err := registry.ValidateReflink(context.Background(), "both-bad")

		// Assert: a checagem de atividade vence a de expiração
		require.NoError(t, err)
		assert.False(t, validation.Valid)
		assert.Equal(t, domain.ReflinkInactive, validation.Reason)
	})

	t.Run("Should report expired for active reflink past expiration", func(t *testing.T) {
		registry, _ := newTestRegistry()
		created, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
			Code: "short-lived",
			Tier: domain.TierBasic,
		})
		require.NoError(t, err)

		expired := time.Now().Add(-time.Minute)
		_, err = registry.UpdateReflink(context.Background(), created.ID, domain.ReflinkPatch{ExpiresAt: &expired})
		require.NoError(t, err)

		validation, err := registry.ValidateReflink(context.Background(), "short-lived")

		require.NoError(t, err)
		assert.False(t, validation.Valid)
		assert.Equal(t, domain.ReflinkExpired, validation.Reason)
	})

	t.Run("Should validate active reflink without expiration", func(t *testing.T) {
		registry, _ := newTestRegistry()
		_, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
			Code: "evergreen",
			Tier: domain.TierPremium,
		})
		require.NoError(t, err)

		validation, err := registry.ValidateReflink(context.Background(), "evergreen")

		require.NoError(t, err)
		assert.True(t, validation.Valid)
		assert.Equal(t, domain.TierPremium, validation.Reflink.RateLimitTier)
		assert.Equal(t, 200, validation.Reflink.DailyLimit)
	})
}

// TestReflinkRegistry_UpdateReflink testa o patch parcial
func TestReflinkRegistry_UpdateReflink(t *testing.T) {
	t.Run("Should drag tier default limit when tier changes without explicit limit", func(t *testing.T) {
		// Arrange
		registry, _ := newTestRegistry()
		created, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
			Code: "upgradeable",
			Tier: domain.TierBasic,
		})
		require.NoError(t, err)
		require.Equal(t, 10, created.DailyLimit)

		premium := domain.TierPremium

		// Act
		updated, err := registry.UpdateReflink(context.Background(), created.ID, domain.ReflinkPatch{Tier: &premium})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, domain.TierPremium, updated.RateLimitTier)
		assert.Equal(t, 200, updated.DailyLimit)
	})

	t.Run("Should keep explicit limit when both tier and limit change", func(t *testing.T) {
		registry, _ := newTestRegistry()
		created, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
			Code: "custom-upgrade",
			Tier: domain.TierBasic,
		})
		require.NoError(t, err)

		premium := domain.TierPremium
		limit := 500

		updated, err := registry.UpdateReflink(context.Background(), created.ID, domain.ReflinkPatch{
			Tier:       &premium,
			DailyLimit: &limit,
		})

		require.NoError(t, err)
		assert.Equal(t, 500, updated.DailyLimit)
	})

	t.Run("Should return not found for unknown reflink", func(t *testing.T) {
		registry, _ := newTestRegistry()
		name := "New name"

		_, err := registry.UpdateReflink(context.Background(), "ghost-id", domain.ReflinkPatch{Name: &name})

		assert.Error(t, err)
		assert.True(t, domain.IsNotFoundError(err))
	})
}

// TestReflinkRegistry_DeleteReflink testa a remoção e seus efeitos na validação
func TestReflinkRegistry_DeleteReflink(t *testing.T) {
	// Arrange
	registry, _ := newTestRegistry()
	created, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
		Code: "to-delete",
		Tier: domain.TierBasic,
	})
	require.NoError(t, err)

	// Act
	err = registry.DeleteReflink(context.Background(), created.ID)

	// Assert
	require.NoError(t, err)

	_, err = registry.GetReflink(context.Background(), created.ID)
	assert.True(t, domain.IsNotFoundError(err))

	// Código removido degrada para not_found na validação
	validation, err := registry.ValidateReflink(context.Background(), "to-delete")
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Equal(t, domain.ReflinkNotFound, validation.Reason)
}

// TestReflinkRegistry_GetUsage testa a agregação de uso do log de auditoria
func TestReflinkRegistry_GetUsage(t *testing.T) {
	// Arrange
	registry, logs := newTestRegistry()
	created, err := registry.CreateReflink(context.Background(), domain.CreateReflinkInput{
		Code: "tracked",
		Tier: domain.TierBasic,
	})
	require.NoError(t, err)

	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	entries := []*domain.RateLimitLogEntry{
		{ID: "1", Identifier: "1.1.1.1", ReflinkID: created.ID, Allowed: true, Timestamp: now},
		{ID: "2", Identifier: "1.1.1.1", ReflinkID: created.ID, Allowed: true, Timestamp: now.Add(time.Hour)},
		{ID: "3", Identifier: "2.2.2.2", ReflinkID: created.ID, Allowed: false, Timestamp: now.Add(25 * time.Hour)},
		{ID: "4", Identifier: "3.3.3.3", ReflinkID: "other", Allowed: true, Timestamp: now},
	}
	for _, entry := range entries {
		require.NoError(t, logs.Append(context.Background(), entry))
	}

	// Act
	usage, err := registry.GetUsage(context.Background(), created.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, usage.TotalRequests)
	assert.Equal(t, 1, usage.BlockedRequests)
	assert.Equal(t, 2, usage.UniqueIdentifiers)
	require.Len(t, usage.RequestsByDay, 2)
	assert.Equal(t, domain.DayCount{Day: "2026-08-20", Count: 2}, usage.RequestsByDay[0])
	assert.Equal(t, domain.DayCount{Day: "2026-08-21", Count: 1}, usage.RequestsByDay[1])
}
