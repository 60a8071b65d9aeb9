package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"assistant-guard/internal/domain"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "guard_test.db"))
	require.NoError(t, err)
	return db
}

// TestGormWindowStore_Admit testa a admissão atômica sobre SQLite
func TestGormWindowStore_Admit(t *testing.T) {
	t.Run("Should create window and increment on first admission", func(t *testing.T) {
		// Arrange
		store := NewGormWindowStore(openTestDB(t))
		now := time.Now()

		// Act
		window, applied, err := store.Admit(context.Background(), admitParams("1.1.1.1", 50, now))

		// Assert
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, 1, window.RequestsCount)
		assert.NotEmpty(t, window.ID)
	})

	t.Run("Should deny without incrementing once limit is reached", func(t *testing.T) {
		// Arrange
		store := NewGormWindowStore(openTestDB(t))
		ctx := context.Background()
		now := time.Now()

		for i := 0; i < 2; i++ {
			_, applied, err := store.Admit(ctx, admitParams("2.2.2.2", 2, now))
			require.NoError(t, err)
			require.True(t, applied)
		}

		// Act
		window, applied, err := store.Admit(ctx, admitParams("2.2.2.2", 2, now))

		// Assert: o UPDATE condicional não afeta nenhuma linha
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, 2, window.RequestsCount)
	})

	t.Run("Should admit unconditionally with unlimited limit", func(t *testing.T) {
		store := NewGormWindowStore(openTestDB(t))
		ctx := context.Background()
		now := time.Now()

		for i := 0; i < 5; i++ {
			_, applied, err := store.Admit(ctx, admitParams("3.3.3.3", domain.UnlimitedDailyLimit, now))
			require.NoError(t, err)
			require.True(t, applied)
		}
	})

	t.Run("Should start a fresh window when the current one expired", func(t *testing.T) {
		// Arrange
		store := NewGormWindowStore(openTestDB(t))
		ctx := context.Background()
		start := time.Now()

		first, _, err := store.Admit(ctx, admitParams("4.4.4.4", 50, start))
		require.NoError(t, err)

		// Act
		second, applied, err := store.Admit(ctx, admitParams("4.4.4.4", 50, start.Add(25*time.Hour)))

		// Assert
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 1, second.RequestsCount)
	})
}

// TestGormWindowStore_PurgeExpired testa a purga de janelas históricas
func TestGormWindowStore_PurgeExpired(t *testing.T) {
	// Arrange
	store := NewGormWindowStore(openTestDB(t))
	ctx := context.Background()
	now := time.Now()

	_, _, err := store.Admit(ctx, admitParams("old", 50, now.AddDate(0, 0, -40)))
	require.NoError(t, err)
	_, _, err = store.Admit(ctx, admitParams("fresh", 50, now))
	require.NoError(t, err)

	// Act
	removed, err := store.PurgeExpired(ctx, now.AddDate(0, 0, -30))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

// TestGormReflinkStore testa o CRUD de reflinks sobre SQLite
func TestGormReflinkStore(t *testing.T) {
	newReflink := func(id, code string) *domain.Reflink {
		now := time.Now()
		return &domain.Reflink{
			ID:            id,
			Code:          code,
			Name:          "Test",
			RateLimitTier: domain.TierBasic,
			DailyLimit:    10,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	t.Run("Should reject duplicate code", func(t *testing.T) {
		store := NewGormReflinkStore(openTestDB(t))
		ctx := context.Background()

		require.NoError(t, store.Create(ctx, newReflink("id-1", "dup")))

		err := store.Create(ctx, newReflink("id-2", "dup"))

		assert.True(t, domain.IsDuplicateCodeError(err))
	})

	t.Run("Should soft delete and hide from lookups", func(t *testing.T) {
		// Arrange
		store := NewGormReflinkStore(openTestDB(t))
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, newReflink("id-1", "doomed")))

		// Act
		require.NoError(t, store.Delete(ctx, "id-1"))

		// Assert
		byID, err := store.GetByID(ctx, "id-1")
		require.NoError(t, err)
		assert.Nil(t, byID)

		byCode, err := store.GetByCode(ctx, "doomed")
		require.NoError(t, err)
		assert.Nil(t, byCode)

		list, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("Should update existing reflink", func(t *testing.T) {
		store := NewGormReflinkStore(openTestDB(t))
		ctx := context.Background()

		reflink := newReflink("id-1", "mutable")
		require.NoError(t, store.Create(ctx, reflink))

		reflink.RateLimitTier = domain.TierPremium
		reflink.DailyLimit = 200
		reflink.IsActive = false
		require.NoError(t, store.Update(ctx, reflink))

		stored, err := store.GetByID(ctx, "id-1")
		require.NoError(t, err)
		assert.Equal(t, domain.TierPremium, stored.RateLimitTier)
		assert.Equal(t, 200, stored.DailyLimit)
		assert.False(t, stored.IsActive)
	})

	t.Run("Should return not found when updating missing reflink", func(t *testing.T) {
		store := NewGormReflinkStore(openTestDB(t))

		err := store.Update(context.Background(), newReflink("ghost", "ghost"))

		assert.True(t, domain.IsNotFoundError(err))
	})
}

// TestGormBlacklistStore testa a blacklist sobre SQLite
func TestGormBlacklistStore(t *testing.T) {
	t.Run("Should apply violations up to the block threshold", func(t *testing.T) {
		// Arrange
		store := NewGormBlacklistStore(openTestDB(t))
		ctx := context.Background()
		now := time.Now()

		// Act
		first, err := store.ApplyViolation(ctx, "entry-1", "7.7.7.7", "abuse", 2, now)
		require.NoError(t, err)
		second, err := store.ApplyViolation(ctx, "ignored", "7.7.7.7", "more abuse", 2, now.Add(time.Minute))
		require.NoError(t, err)

		// Assert
		assert.False(t, first.IsBlocked())
		assert.True(t, second.IsBlocked())
		assert.Equal(t, 2, second.ViolationCount)
		assert.Equal(t, "entry-1", second.ID)

		stored, err := store.GetByIP(ctx, "7.7.7.7")
		require.NoError(t, err)
		assert.True(t, stored.IsBlocked())
	})

	t.Run("Should list only auto-reinstatable entries", func(t *testing.T) {
		// Arrange
		store := NewGormBlacklistStore(openTestDB(t))
		ctx := context.Background()
		now := time.Now()

		oldBlock := now.AddDate(0, 0, -31)
		stale := domain.NewBlacklistEntry("stale", "8.8.8.8", "old", oldBlock)
		stale.RegisterViolation("old", 2, oldBlock)
		require.NoError(t, store.Upsert(ctx, stale))

		recentBlock := now.AddDate(0, 0, -5)
		recent := domain.NewBlacklistEntry("recent", "9.9.9.9", "new", recentBlock)
		recent.RegisterViolation("new", 2, recentBlock)
		require.NoError(t, store.Upsert(ctx, recent))

		// Entrada apenas com warning não é elegível
		warned := domain.NewBlacklistEntry("warned", "10.10.10.10", "warn", oldBlock)
		require.NoError(t, store.Upsert(ctx, warned))

		// Act
		eligible, err := store.ListAutoReinstatable(ctx, now.AddDate(0, 0, -30))

		// Assert
		require.NoError(t, err)
		require.Len(t, eligible, 1)
		assert.Equal(t, "8.8.8.8", eligible[0].IPAddress)
	})

	t.Run("Should persist reinstatement through upsert", func(t *testing.T) {
		// Arrange
		store := NewGormBlacklistStore(openTestDB(t))
		ctx := context.Background()
		now := time.Now()

		entry, err := store.ApplyViolation(ctx, "entry-1", "11.11.11.11", "abuse", 1, now)
		require.NoError(t, err)
		require.NotNil(t, entry)

		// Primeira ofensa nunca bloqueia, mesmo com threshold 1
		assert.False(t, entry.IsBlocked())

		// A segunda atinge o threshold
		entry, err = store.ApplyViolation(ctx, "x", "11.11.11.11", "again", 1, now)
		require.NoError(t, err)
		require.True(t, entry.IsBlocked())

		// Act
		reinstatedAt := now.Add(time.Hour)
		entry.ReinstatedAt = &reinstatedAt
		entry.ReinstatedBy = "admin"
		require.NoError(t, store.Upsert(ctx, entry))

		// Assert
		stored, err := store.GetByIP(ctx, "11.11.11.11")
		require.NoError(t, err)
		assert.False(t, stored.IsBlocked())
		assert.Equal(t, "admin", stored.ReinstatedBy)
	})
}

// TestGormLogStore testa o log de auditoria sobre SQLite
func TestGormLogStore(t *testing.T) {
	t.Run("Should aggregate usage per reflink", func(t *testing.T) {
		// Arrange
		store := NewGormLogStore(openTestDB(t))
		ctx := context.Background()
		day := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

		entries := []*domain.RateLimitLogEntry{
			{ID: "1", Identifier: "a", ReflinkID: "r1", Allowed: true, Timestamp: day},
			{ID: "2", Identifier: "b", ReflinkID: "r1", Allowed: false, Timestamp: day},
			{ID: "3", Identifier: "a", ReflinkID: "r1", Allowed: true, Timestamp: day.AddDate(0, 0, 1)},
			{ID: "4", Identifier: "c", ReflinkID: "r2", Allowed: true, Timestamp: day},
		}
		for _, entry := range entries {
			require.NoError(t, store.Append(ctx, entry))
		}

		// Act
		usage, err := store.UsageByReflink(ctx, "r1")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 3, usage.TotalRequests)
		assert.Equal(t, 1, usage.BlockedRequests)
		assert.Equal(t, 2, usage.UniqueIdentifiers)
		require.Len(t, usage.RequestsByDay, 2)
		assert.Equal(t, "2026-08-01", usage.RequestsByDay[0].Day)
		assert.Equal(t, 2, usage.RequestsByDay[0].Count)
	})

	t.Run("Should purge entries older than the horizon", func(t *testing.T) {
		// Arrange
		store := NewGormLogStore(openTestDB(t))
		ctx := context.Background()
		now := time.Now()

		require.NoError(t, store.Append(ctx, &domain.RateLimitLogEntry{ID: "old", Timestamp: now.AddDate(0, 0, -40)}))
		require.NoError(t, store.Append(ctx, &domain.RateLimitLogEntry{ID: "new", Timestamp: now}))

		// Act
		removed, err := store.PurgeOlderThan(ctx, now.AddDate(0, 0, -30))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}
