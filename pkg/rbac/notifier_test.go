package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisNotifier_SkipsOwnMessages(t *testing.T) {
	client := newTestRedis(t)
	sender := NewRedisNotifier(client, "", nil)
	receiver := NewRedisNotifier(client, "", nil)
	assert.NotEqual(t, sender.InstanceID(), receiver.InstanceID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 100)
	done := make(chan error, 1)
	go func() {
		done <- receiver.Subscribe(ctx, func(_ context.Context, org string) { received <- org })
	}()

	// Publish until the subscription is live
	require.Eventually(t, func() bool {
		if err := sender.Publish(ctx, "acme"); err != nil {
			return false
		}
		select {
		case org := <-received:
			return org == "acme"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, receiver.Publish(ctx, "self"))
	require.NoError(t, client.Publish(ctx, DefaultInvalidationChannel, "malformed").Err())
	require.NoError(t, sender.Publish(ctx, "globex"))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case org := <-received:
			require.NotEqual(t, "self", org)
			if org == "globex" {
				cancel()
				assert.NoError(t, <-done)
				return
			}
		case <-timeout:
			t.Fatal("invalidation for globex not delivered")
		}
	}
}

func TestRegistry_ListenForInvalidations(t *testing.T) {
	client := newTestRedis(t)
	store := NewSQLStore(setupTestDB(t))

	writer := NewRegistry(RegistryConfig{Store: store, Notifier: NewRedisNotifier(client, "", nil)})
	reader := NewRegistry(RegistryConfig{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load acme on the reader so only an invalidation can reveal new roles
	_, err := reader.ResolveRole(ctx, RoleMember, "acme")
	require.NoError(t, err)

	go func() { _ = reader.ListenForInvalidations(ctx, NewRedisNotifier(client, "", nil)) }()

	_, err = writer.CreateRole(ctx, Role{Name: "editor", OrganizationID: "acme", Permissions: []string{"articles:write"}})
	require.NoError(t, err)

	// The first publish may race the subscription, so keep announcing
	announcer := NewRedisNotifier(client, "", nil)
	require.Eventually(t, func() bool {
		_ = announcer.Publish(ctx, "acme")
		_, err := reader.ResolveRole(ctx, "editor", "acme")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
}
