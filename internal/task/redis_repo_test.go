package task

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhive/internal/model"
)

// setupTestClient starts a miniredis server and returns a repo pointed at it.
func setupTestClient(t *testing.T) (*RedisRepo, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	repo, err := NewRedisRepo(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo, mr
}

func TestRedisRepo(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		repo, _ := setupTestClient(t)
		return repo
	})
}

func TestNewRedisRepo_RequiresNamespace(t *testing.T) {
	_, err := NewRedisRepo(&redis.Options{Addr: "localhost:0"}, "")
	assert.Error(t, err)
}

func TestNewRedisRepoFromURL_RejectsBadURL(t *testing.T) {
	_, err := NewRedisRepoFromURL("http://nope", "test")
	assert.Error(t, err)
}

func TestRedisRepo_KeyLayout(t *testing.T) {
	repo, mr := setupTestClient(t)
	ctx := context.Background()

	created, err := repo.ForUser("u1").Create(ctx, model.TaskCreate{Title: "A"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:tasks:u1"))
	assert.NotEmpty(t, mr.HGet("test:tasks:u1", string(created.ID)))
	members, err := mr.Members("test:users")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	require.NoError(t, repo.Ping(ctx))
}

func TestRedisRepo_CorruptValueSurfacesError(t *testing.T) {
	repo, mr := setupTestClient(t)
	mr.HSet("test:tasks:u1", "bad", "{not json")

	_, err := repo.ForUser("u1").List(context.Background(), model.Filter{})
	assert.Error(t, err)
}
