package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/replydesk/internal/models"
	"github.com/xaenox/replydesk/internal/storage"
	"go.uber.org/zap/zaptest"
)

var base = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func claim(thread, message, user string, at time.Time) models.Assignment {
	return models.Assignment{
		ID:         uuid.NewString(),
		ThreadID:   thread,
		MessageID:  message,
		AssignedTo: user,
		AssignedAt: at,
		IsActive:   true,
	}
}

// backends returns every store that can run without external services.
func backends(t *testing.T) map[string]func(t *testing.T) storage.Storage {
	return map[string]func(t *testing.T) storage.Storage{
		"memory": func(t *testing.T) storage.Storage {
			return storage.NewMemoryStorage()
		},
		"sqlite": func(t *testing.T) storage.Storage {
			s, err := storage.NewSQLiteStorage(":memory:", zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestClaim_EmptySlot(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			stored, ok, err := s.Claim(ctx, claim("thread-1", "msg-1", "alice", base))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "alice", stored.AssignedTo)
			assert.True(t, stored.IsActive)
			assert.True(t, base.Equal(stored.AssignedAt))
		})
	}
}

func TestClaim_BlockedByOtherUser(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			first := claim("thread-1", "msg-1", "alice", base)
			_, ok, err := s.Claim(ctx, first)
			require.NoError(t, err)
			require.True(t, ok)

			holder, ok, err := s.Claim(ctx, claim("thread-1", "msg-1", "bob", base.Add(time.Minute)))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, "alice", holder.AssignedTo)

			got, err := s.Get(ctx, first.Key())
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, first.ID, got.ID)
			assert.Equal(t, "alice", got.AssignedTo)
			assert.True(t, base.Equal(got.AssignedAt))
		})
	}
}

func TestClaim_SameUserRefreshes(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, ok, err := s.Claim(ctx, claim("thread-1", "msg-1", "alice", base))
			require.NoError(t, err)
			require.True(t, ok)

			later := base.Add(5 * time.Minute)
			stored, ok, err := s.Claim(ctx, claim("thread-1", "msg-1", "alice", later))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, later.Equal(stored.AssignedAt))
		})
	}
}

func TestClaim_AfterRelease(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			key := models.Key{ThreadID: "thread-1", MessageID: "msg-1"}

			_, _, err := s.Claim(ctx, claim("thread-1", "msg-1", "alice", base))
			require.NoError(t, err)
			require.NoError(t, s.Release(ctx, key))

			released, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, released)
			assert.False(t, released.IsActive)

			stored, ok, err := s.Claim(ctx, claim("thread-1", "msg-1", "bob", base.Add(time.Minute)))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "bob", stored.AssignedTo)
		})
	}
}

func TestRelease_Missing(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			err := s.Release(context.Background(), models.Key{ThreadID: "nope", MessageID: "nope"})
			assert.NoError(t, err)
		})
	}
}

func TestReplace(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			previous, err := s.Replace(ctx, claim("thread-1", "msg-1", "alice", base))
			require.NoError(t, err)
			assert.Nil(t, previous)

			previous, err = s.Replace(ctx, claim("thread-1", "msg-1", "bob", base.Add(time.Minute)))
			require.NoError(t, err)
			require.NotNil(t, previous)
			assert.Equal(t, "alice", previous.AssignedTo)

			got, err := s.Get(ctx, models.Key{ThreadID: "thread-1", MessageID: "msg-1"})
			require.NoError(t, err)
			assert.Equal(t, "bob", got.AssignedTo)
			assert.True(t, got.IsActive)
		})
	}
}

func TestActiveByThread_NewestFirst(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, _, err := s.Claim(ctx, claim("thread-1", "msg-1", "alice", base))
			require.NoError(t, err)
			_, _, err = s.Claim(ctx, claim("thread-1", "msg-2", "bob", base.Add(time.Minute)))
			require.NoError(t, err)
			_, _, err = s.Claim(ctx, claim("thread-1", "msg-3", "carol", base.Add(2*time.Minute)))
			require.NoError(t, err)
			_, _, err = s.Claim(ctx, claim("thread-2", "msg-1", "dave", base))
			require.NoError(t, err)
			require.NoError(t, s.Release(ctx, models.Key{ThreadID: "thread-1", MessageID: "msg-3"}))

			active, err := s.ActiveByThread(ctx, "thread-1")
			require.NoError(t, err)
			require.Len(t, active, 2)
			assert.Equal(t, "bob", active[0].AssignedTo)
			assert.Equal(t, "alice", active[1].AssignedTo)
		})
	}
}

func TestDeleteOlderThan(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			_, _, err := s.Claim(ctx, claim("thread-1", "msg-1", "alice", base))
			require.NoError(t, err)
			_, _, err = s.Claim(ctx, claim("thread-1", "msg-2", "bob", base))
			require.NoError(t, err)
			require.NoError(t, s.Release(ctx, models.Key{ThreadID: "thread-1", MessageID: "msg-2"}))
			_, _, err = s.Claim(ctx, claim("thread-1", "msg-3", "carol", base.Add(40*time.Minute)))
			require.NoError(t, err)

			removed, err := s.DeleteOlderThan(ctx, base.Add(10*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			active, err := s.ActiveByThread(ctx, "thread-1")
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "carol", active[0].AssignedTo)

			removed, err = s.DeleteOlderThan(ctx, base.Add(10*time.Minute))
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			users := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi"}
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners []string
			)
			for _, u := range users {
				wg.Add(1)
				go func(user string) {
					defer wg.Done()
					_, ok, err := s.Claim(ctx, claim("thread-1", "msg-1", user, base))
					assert.NoError(t, err)
					if ok {
						mu.Lock()
						winners = append(winners, user)
						mu.Unlock()
					}
				}(u)
			}
			wg.Wait()

			require.Len(t, winners, 1)
			got, err := s.Get(ctx, models.Key{ThreadID: "thread-1", MessageID: "msg-1"})
			require.NoError(t, err)
			assert.Equal(t, winners[0], got.AssignedTo)
		})
	}
}

func TestReplace_ConcurrentChain(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			users := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi"}
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				fresh     int
				displaced = map[string]int{}
			)
			for _, u := range users {
				wg.Add(1)
				go func(user string) {
					defer wg.Done()
					previous, err := s.Replace(ctx, claim("thread-1", "msg-1", user, base))
					assert.NoError(t, err)
					mu.Lock()
					defer mu.Unlock()
					if previous == nil {
						fresh++
					} else {
						displaced[previous.AssignedTo]++
					}
				}(u)
			}
			wg.Wait()

			// one caller created the claim, every other caller displaced a
			// distinct holder, and the last holder was never displaced
			assert.Equal(t, 1, fresh)
			assert.Len(t, displaced, len(users)-1)
			for holder, n := range displaced {
				assert.Equal(t, 1, n, holder)
			}

			got, err := s.Get(ctx, models.Key{ThreadID: "thread-1", MessageID: "msg-1"})
			require.NoError(t, err)
			assert.NotContains(t, displaced, got.AssignedTo)
		})
	}
}

func TestMessages_AppendAndList(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			for i, body := range []string{"first", "second", "third"} {
				err := s.AppendMessage(ctx, &models.Message{
					ID:        uuid.NewString(),
					ThreadID:  "thread-1",
					AuthorID:  "alice",
					Body:      body,
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				})
				require.NoError(t, err)
			}

			all, err := s.ListMessages(ctx, "thread-1", 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "first", all[0].Body)

			last, err := s.ListMessages(ctx, "thread-1", 2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			assert.Equal(t, "second", last[0].Body)
			assert.Equal(t, "third", last[1].Body)

			none, err := s.ListMessages(ctx, "thread-2", 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}
