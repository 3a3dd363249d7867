package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Online(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "online:"+userID)
}

func (r *recorder) Offline(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "offline:"+userID)
}

func TestRegisterLookupUnregister(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec)

	_, replaced := r.Register("alice", "c1")
	assert.False(t, replaced)

	conn, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", conn)

	user, ok := r.Unregister("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	_, ok = r.Lookup("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"online:alice", "offline:alice"}, rec.events)
}

func TestUnregisterUnknownConnection(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec)

	_, ok := r.Unregister("never-registered")
	assert.False(t, ok)
	assert.Empty(t, rec.events)
}

func TestRegisterLastWins(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec)

	r.Register("alice", "phone")
	prev, replaced := r.Register("alice", "laptop")
	assert.True(t, replaced)
	assert.Equal(t, "phone", prev)

	conn, _ := r.Lookup("alice")
	assert.Equal(t, "laptop", conn)

	// the replaced connection disconnecting must not take alice offline
	_, ok := r.Unregister("phone")
	assert.False(t, ok)
	conn, ok = r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "laptop", conn)
	assert.Equal(t, []string{"online:alice", "online:alice"}, rec.events)
}

func TestRegisterSameConnectionTwice(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	_, replaced := r.Register("alice", "c1")
	assert.False(t, replaced)
	assert.Equal(t, 1, r.Len())
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Snapshot())

	r.Register("carol", "c3")
	r.Register("alice", "c1")
	r.Register("bob", "c2")
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Snapshot())

	r.Unregister("c2")
	assert.Equal(t, []string{"alice", "carol"}, r.Snapshot())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			conn := fmt.Sprintf("c%d", i)
			r.Register(user, conn)
			r.Lookup(user)
			r.Snapshot()
			r.Unregister(conn)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

// --- redis mirror ---

type fakeSet struct {
	members map[string]bool
	err     error
}

func newFakeSet() *fakeSet { return &fakeSet{members: map[string]bool{}} }

func (f *fakeSet) SAdd(_ context.Context, _ string, members ...interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, m := range members {
		f.members[m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeSet) SRem(_ context.Context, _ string, members ...interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, m := range members {
		delete(f.members, m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeSet) SMembers(_ context.Context, _ string) *redis.StringSliceCmd {
	if f.err != nil {
		return redis.NewStringSliceResult(nil, f.err)
	}
	out := make([]string, 0, len(f.members))
	for m := range f.members {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeSet) Del(_ context.Context, _ ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.members = map[string]bool{}
	return redis.NewIntResult(1, nil)
}

func TestRedisMirrorFollowsRegistry(t *testing.T) {
	set := newFakeSet()
	set.members["stale"] = true
	mirror := NewRedisMirror(set, logging.Discard())
	require.NoError(t, mirror.Reset(context.Background()))

	r := NewRegistry(mirror)
	r.Register("bob", "c2")
	r.Register("alice", "c1")

	users, err := mirror.Members(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	r.Unregister("c2")
	users, err = mirror.Members(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestRedisMirrorFailureDoesNotAffectRegistry(t *testing.T) {
	set := newFakeSet()
	set.err = errors.New("connection refused")
	mirror := NewRedisMirror(set, logging.Discard())

	r := NewRegistry(mirror)
	r.Register("alice", "c1")

	conn, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", conn)

	_, err := mirror.Members(context.Background())
	assert.Error(t, err)
	assert.Error(t, mirror.Reset(context.Background()))
}
