package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationKey(t *testing.T) {
	assert.Equal(t, "slotsync:notification:ch-1:42", notificationKey("ch-1", "42"))
}

func TestRedisIntegration_ClaimAndRelease(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("SLOTSYNC_TEST_REDIS_URL"))
	if url == "" {
		t.Skip("SLOTSYNC_TEST_REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	d := NewDeduper(client, time.Minute)
	channelID := "ch-" + uuid.NewString()

	first, err := d.Claim(ctx, channelID, "7")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.Claim(ctx, channelID, "7")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := d.Claim(ctx, channelID, "8")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, d.Release(ctx, channelID, "7"))
	reclaimed, err := d.Claim(ctx, channelID, "7")
	require.NoError(t, err)
	assert.True(t, reclaimed)

	ttl, err := client.TTL(ctx, notificationKey(channelID, "7")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_ = d.Release(ctx, channelID, "7")
	_ = d.Release(ctx, channelID, "8")
}
