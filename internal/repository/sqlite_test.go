package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/migrations"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.RunMigrations(migrations.FS))
	return repo
}

func TestCreateAndListAuthEvents(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateAuthEvent(ctx, &models.AuthEvent{
		SubjectID: "sub-1",
		Principal: "alice@example.com",
		EventType: "login_success",
		IPAddress: "192.0.2.1",
		Path:      "/callback",
		Verb:      "POST",
	}))
	require.NoError(t, repo.CreateAuthEvent(ctx, &models.AuthEvent{
		EventType: "unauthorized_access",
		IPAddress: "192.0.2.2",
		Path:      "/dashboard",
		Verb:      "GET",
	}))

	events, err := repo.ListAuthEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestListAuthEventsHonorsLimit(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateAuthEvent(ctx, &models.AuthEvent{
			EventType: "login_attempt",
			IPAddress: "192.0.2.1",
		}))
	}
	events, err := repo.ListAuthEvents(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
