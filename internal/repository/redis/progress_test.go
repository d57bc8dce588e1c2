// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return NewFromClient(rdb), mr
}

func TestProgressCacheSetGet(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewProgressCache(client)
	ctx := context.Background()
	jobID := uuid.New()

	if err := cache.Set(ctx, jobID, 40, "syncing courses"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want snapshot")
	}
	if got.JobID != jobID || got.Progress != 40 || got.Message != "syncing courses" {
		t.Errorf("snapshot = %+v", got)
	}

	// Key carries the 1h expiry.
	ttl := mr.TTL("job_progress:" + jobID.String())
	if ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}
}

func TestProgressCacheMiss(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewProgressCache(client)

	got, err := cache.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil on miss", got)
	}
}

func TestProgressCacheExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewProgressCache(client)
	ctx := context.Background()
	jobID := uuid.New()

	if err := cache.Set(ctx, jobID, 99, ""); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Hour)

	got, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Error("snapshot survived expiry")
	}
}

func TestProgressCacheDelete(t *testing.T) {
	client, _ := newTestClient(t)
	cache := NewProgressCache(client)
	ctx := context.Background()
	jobID := uuid.New()

	if err := cache.Set(ctx, jobID, 10, ""); err != nil {
		t.Fatal(err)
	}
	if err := cache.Delete(ctx, jobID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, _ := cache.Get(ctx, jobID)
	if got != nil {
		t.Error("snapshot survived delete")
	}
}
