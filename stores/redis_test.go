package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisGroupMembership(t *testing.T) {
	ctx := context.Background()
	groups := NewRedisGroupMembership(newRedis(t))
	for _, g := range []int64{12, 3, 12} {
		if err := groups.AddMember(ctx, 1, g); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	got, err := groups.GroupsFor(ctx, &permit.Subject{ID: 1})
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 12 {
		t.Fatalf("unexpected groups %v", got)
	}
	if err := groups.RemoveMember(ctx, 1, 3); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	got, _ = groups.ListGroups(ctx, 1)
	if len(got) != 1 || got[0] != 12 {
		t.Fatalf("unexpected groups after removal %v", got)
	}
	if got, _ := groups.GroupsFor(ctx, &permit.Subject{}); got != nil {
		t.Fatalf("anonymous subject has no groups, got %v", got)
	}
}

type countingInvalidator struct {
	calls chan struct{}
}

func (c *countingInvalidator) Invalidate() { c.calls <- struct{}{} }

func TestRedisInvalidationBus(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	writer := NewRedisInvalidationBus(client)
	reader := NewRedisInvalidationBus(client)

	remote := &countingInvalidator{calls: make(chan struct{}, 4)}
	stopRemote, err := reader.Subscribe(ctx, remote)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stopRemote()
	local := &countingInvalidator{calls: make(chan struct{}, 4)}
	stopLocal, err := writer.Subscribe(ctx, local)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stopLocal()

	writer.OnMutation(ctx, permit.Mutation{Entity: permit.EntityPolicy, Op: permit.OpUpdate, ID: 3})
	select {
	case <-remote.calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("remote cache was not invalidated")
	}
	select {
	case <-local.calls:
		t.Fatalf("a bus must ignore its own messages")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusInvalidatesCompiledCache(t *testing.T) {
	ctx := context.Background()
	client := newRedis(t)
	store := permit.NewMemoryStore()
	cache, err := permit.NewCompiledCache(store)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()
	stop, err := NewRedisInvalidationBus(client).Subscribe(ctx, cache)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	admin, err := permit.NewAdmin(store, permit.WithListener(NewRedisInvalidationBus(client)))
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	if _, err := cache.Build(ctx); err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := admin.CreateAction(ctx, &permit.Action{Key: "view"}); err != nil {
		t.Fatalf("create action: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := cache.Get(); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("cache still holds the stale snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
