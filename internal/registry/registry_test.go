package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/replydesk/internal/registry"
	"github.com/xaenox/replydesk/internal/storage"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRegistry(t *testing.T) (*registry.Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reg := registry.New(storage.NewMemoryStorage(), zaptest.NewLogger(t), registry.WithClock(clock))
	return reg, clock
}

func TestAssign_SecondUserRejected(t *testing.T) {
	reg, clock := newRegistry(t)
	ctx := context.Background()

	first, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	require.True(t, first.Assigned)

	clock.Advance(time.Minute)
	second, err := reg.Assign(ctx, "thread-1", "msg-1", "bob")
	require.NoError(t, err)
	assert.False(t, second.Assigned)
	assert.Equal(t, "alice", second.Current.AssignedTo)
	assert.True(t, first.Current.AssignedAt.Equal(second.Current.AssignedAt))

	status, err := reg.Status(ctx, "thread-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", status.AssignedTo)
	assert.True(t, first.Current.AssignedAt.Equal(*status.AssignedAt))
}

func TestAssign_SameUserRefreshes(t *testing.T) {
	reg, clock := newRegistry(t)
	ctx := context.Background()

	first, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	require.True(t, first.Assigned)

	clock.Advance(2 * time.Minute)
	second, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	assert.True(t, second.Assigned)
	assert.Equal(t, first.Current.AssignedAt.Add(2*time.Minute), second.Current.AssignedAt)
}

func TestAssign_AfterRelease(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	res, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	require.True(t, res.Assigned)

	require.NoError(t, reg.Release(ctx, "thread-1", "msg-1"))

	res, err = reg.Assign(ctx, "thread-1", "msg-1", "bob")
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	assert.Equal(t, "bob", res.Current.AssignedTo)
}

func TestAssign_Validation(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Assign(ctx, "", "msg-1", "alice")
	assert.ErrorIs(t, err, registry.ErrInvalidKey)
	_, err = reg.Assign(ctx, "thread-1", "", "alice")
	assert.ErrorIs(t, err, registry.ErrInvalidKey)
	_, err = reg.Assign(ctx, "thread-1", "msg-1", "")
	assert.ErrorIs(t, err, registry.ErrInvalidUser)
	assert.ErrorIs(t, reg.Release(ctx, "thread-1", ""), registry.ErrInvalidKey)
}

func TestRelease_NoOp(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Release(ctx, "thread-1", "msg-1"))

	_, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	require.NoError(t, reg.Release(ctx, "thread-1", "msg-1"))
	require.NoError(t, reg.Release(ctx, "thread-1", "msg-1"))

	status, err := reg.Status(ctx, "thread-1", "alice")
	require.NoError(t, err)
	assert.False(t, status.IsAssigned)
}

func TestStatus_ReflectsClaim(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)

	asOther, err := reg.Status(ctx, "thread-1", "bob")
	require.NoError(t, err)
	assert.True(t, asOther.IsAssigned)
	assert.Equal(t, "alice", asOther.AssignedTo)
	assert.True(t, asOther.CanTakeOver)

	asHolder, err := reg.Status(ctx, "thread-1", "alice")
	require.NoError(t, err)
	assert.True(t, asHolder.IsAssigned)
	assert.False(t, asHolder.CanTakeOver)

	empty, err := reg.Status(ctx, "thread-9", "alice")
	require.NoError(t, err)
	assert.False(t, empty.IsAssigned)
	assert.False(t, empty.CanTakeOver)
	assert.Nil(t, empty.AssignedAt)
}

func TestStatus_MostRecentClaimWins(t *testing.T) {
	reg, clock := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Assign(ctx, "thread-1", "msg-b", "alice")
	require.NoError(t, err)
	_, err = reg.Assign(ctx, "thread-1", "msg-a", "carol")
	require.NoError(t, err)

	// same instant: smallest message id
	status, err := reg.Status(ctx, "thread-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "carol", status.AssignedTo)
	assert.Equal(t, "msg-a", status.MessageID)

	clock.Advance(time.Second)
	_, err = reg.Assign(ctx, "thread-1", "msg-c", "dave")
	require.NoError(t, err)

	status, err = reg.Status(ctx, "thread-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "dave", status.AssignedTo)
}

func TestTakeOver(t *testing.T) {
	reg, clock := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	res, err := reg.TakeOver(ctx, "thread-1", "msg-1", "bob")
	require.NoError(t, err)
	assert.True(t, res.Assigned)
	require.NotNil(t, res.Previous)
	assert.Equal(t, "alice", res.Previous.AssignedTo)

	status, err := reg.Status(ctx, "thread-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", status.AssignedTo)
	assert.True(t, status.CanTakeOver)

	// alice is now the one blocked
	blocked, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	assert.False(t, blocked.Assigned)
}

func TestTakeOver_ReleasedClaimHasNoPrevious(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	require.NoError(t, reg.Release(ctx, "thread-1", "msg-1"))

	res, err := reg.TakeOver(ctx, "thread-1", "msg-1", "bob")
	require.NoError(t, err)
	assert.Nil(t, res.Previous)
}

func TestSweep_ExpiryFreesThread(t *testing.T) {
	reg, clock := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)

	clock.Advance(registry.DefaultExpiry - time.Second)
	removed, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	status, err := reg.Status(ctx, "thread-1", "bob")
	require.NoError(t, err)
	assert.True(t, status.IsAssigned)

	clock.Advance(2 * time.Second)
	removed, err = reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	status, err = reg.Status(ctx, "thread-1", "bob")
	require.NoError(t, err)
	assert.False(t, status.IsAssigned)

	res, err := reg.Assign(ctx, "thread-1", "msg-1", "bob")
	require.NoError(t, err)
	assert.True(t, res.Assigned)
}

func TestSweep_DropsReleasedClaims(t *testing.T) {
	reg, clock := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	require.NoError(t, reg.Release(ctx, "thread-1", "msg-1"))

	clock.Advance(registry.DefaultExpiry + time.Second)
	removed, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestWithExpiry(t *testing.T) {
	clock := newFakeClock()
	reg := registry.New(storage.NewMemoryStorage(), zaptest.NewLogger(t),
		registry.WithClock(clock), registry.WithExpiry(5*time.Minute))
	ctx := context.Background()

	assert.Equal(t, 5*time.Minute, reg.Expiry())

	_, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)

	removed, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

// Walks the alice/bob scenario end to end.
func TestCollisionScenario(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	res, err := reg.Assign(ctx, "thread-1", "msg-1", "alice")
	require.NoError(t, err)
	assert.True(t, res.Assigned)

	res, err = reg.Assign(ctx, "thread-1", "msg-1", "bob")
	require.NoError(t, err)
	assert.False(t, res.Assigned)
	assert.Equal(t, "alice", res.Current.AssignedTo)

	status, err := reg.Status(ctx, "thread-1", "bob")
	require.NoError(t, err)
	assert.True(t, status.IsAssigned)
	assert.Equal(t, "alice", status.AssignedTo)
	assert.True(t, status.CanTakeOver)

	require.NoError(t, reg.Release(ctx, "thread-1", "msg-1"))

	res, err = reg.Assign(ctx, "thread-1", "msg-1", "bob")
	require.NoError(t, err)
	assert.True(t, res.Assigned)

	status, err = reg.Status(ctx, "thread-1", "alice")
	require.NoError(t, err)
	assert.True(t, status.IsAssigned)
	assert.Equal(t, "bob", status.AssignedTo)
	assert.True(t, status.CanTakeOver)
}
