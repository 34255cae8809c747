// Package redis remembers accepted push notifications so vendor redeliveries are acknowledged
// without being processed twice.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "slotsync:notification:"

type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect parses url, e.g. redis://localhost:6379/0, and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

func notificationKey(channelID, messageNumber string) string {
	return keyPrefix + channelID + ":" + messageNumber
}

// Claim records the notification and reports whether this caller is the first to see it.
func (d *Deduper) Claim(ctx context.Context, channelID, messageNumber string) (bool, error) {
	ok, err := d.client.SetNX(ctx, notificationKey(channelID, messageNumber), time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so a redelivery of a failed notification is processed again.
func (d *Deduper) Release(ctx context.Context, channelID, messageNumber string) error {
	if err := d.client.Del(ctx, notificationKey(channelID, messageNumber)).Err(); err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}
