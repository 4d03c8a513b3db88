package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// BenchmarkInMemoryStore_AddRequest benchmarks the AddRequest operation.
//
// This benchmark tests the performance of adding request timestamps to the store.
// Target: <1ms per operation
func BenchmarkInMemoryStore_AddRequest(b *testing.B) {
	store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
		MaxKeys: 10000,
		Clock:   &SystemClock{},
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("ip:%d", i%1000)
		store.AddRequest(ctx, key, time.Now())
	}
}

// BenchmarkInMemoryStore_AddRequest_SingleKey benchmarks AddRequest to a single key.
//
// This tests the performance when many requests come from the same IP/user.
func BenchmarkInMemoryStore_AddRequest_SingleKey(b *testing.B) {
	store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
		MaxKeys: 10000,
		Clock:   &SystemClock{},
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.AddRequest(ctx, "ip:192.168.1.1", time.Now())
	}
}

// BenchmarkInMemoryStore_GetRequestCount benchmarks the GetRequestCount operation.
//
// This is the most critical operation as it's called on every rate limit check.
// Target: <1ms per operation
func BenchmarkInMemoryStore_GetRequestCount(b *testing.B) {
	store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
		MaxKeys: 10000,
		Clock:   &SystemClock{},
	})
	ctx := context.Background()

	// Pre-populate the store with 1000 keys, each with 100 requests
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("ip:%d", i)
		for j := 0; j < 100; j++ {
			store.AddRequest(ctx, key, time.Now().Add(-time.Duration(j)*time.Second))
		}
	}

	cutoff := time.Now().Add(-1 * time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("ip:%d", i%1000)
		store.GetRequestCount(ctx, key, cutoff)
	}
}

// BenchmarkInMemoryStore_Cleanup benchmarks the Cleanup operation.
//
// This operation removes old timestamps when a caller invokes it.
// Target: <100ms for 10,000 keys
func BenchmarkInMemoryStore_Cleanup(b *testing.B) {
	ctx := context.Background()

	// Create a new store for each run
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
			MaxKeys: 10000,
			Clock:   &SystemClock{},
		})

		// Pre-populate the store
		now := time.Now()
		for j := 0; j < 1000; j++ {
			key := fmt.Sprintf("ip:%d", j)
			// Add old timestamps (should be cleaned up)
			for k := 0; k < 50; k++ {
				store.AddRequest(ctx, key, now.Add(-2*time.Hour))
			}
			// Add recent timestamps (should be kept)
			for k := 0; k < 50; k++ {
				store.AddRequest(ctx, key, now.Add(-30*time.Minute))
			}
		}
		b.StartTimer()

		// Cleanup timestamps older than 1 hour
		cutoff := now.Add(-1 * time.Hour)
		store.Cleanup(ctx, cutoff)
	}
}

// BenchmarkInMemoryStore_LRUEviction benchmarks LRU eviction performance.
//
// This tests the performance when the store reaches capacity and needs to evict keys.
// Target: <10ms for evicting 10% of keys
func BenchmarkInMemoryStore_LRUEviction(b *testing.B) {
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
			MaxKeys: 1000, // Small max for faster benchmarking
			Clock:   &SystemClock{},
		})

		// Fill the store to capacity
		for j := 0; j < 1000; j++ {
			key := fmt.Sprintf("ip:%d", j)
			store.AddRequest(ctx, key, time.Now())
		}
		b.StartTimer()

		// Add a new key, triggering eviction
		store.AddRequest(ctx, "ip:new-key", time.Now())
	}
}

// BenchmarkSlidingWindow_IsAllowed benchmarks the core rate limiting algorithm.
//
// This is the most critical benchmark as it represents the full rate limit check.
// Target: <5ms p99 latency
func BenchmarkSlidingWindow_IsAllowed(b *testing.B) {
	store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
		MaxKeys: 10000,
		Clock:   &SystemClock{},
	})
	algo := NewSlidingWindowAlgorithm(&SystemClock{})
	ctx := context.Background()

	limit := 100
	window := time.Minute

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("ip:%d", i%1000)
		algo.IsAllowed(ctx, key, store, limit, window)
	}
}

// BenchmarkSlidingWindow_IsAllowed_HighLoad benchmarks under high load.
//
// Simulates a scenario with many unique IPs making requests.
func BenchmarkSlidingWindow_IsAllowed_HighLoad(b *testing.B) {
	store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
		MaxKeys: 10000,
		Clock:   &SystemClock{},
	})
	algo := NewSlidingWindowAlgorithm(&SystemClock{})
	ctx := context.Background()

	limit := 100
	window := time.Minute

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Simulate 10,000 unique IPs
		key := fmt.Sprintf("ip:%d", i%10000)
		algo.IsAllowed(ctx, key, store, limit, window)
	}
}

// BenchmarkSlidingWindow_ConcurrentRequests benchmarks concurrent request handling.
//
// This tests the thread-safety and lock contention performance.
// Target: No significant performance degradation with concurrency
func BenchmarkSlidingWindow_ConcurrentRequests(b *testing.B) {
	store := NewInMemoryRateLimitStore(InMemoryStoreConfig{
		MaxKeys: 10000,
		Clock:   &SystemClock{},
	})
	algo := NewSlidingWindowAlgorithm(&SystemClock{})
	ctx := context.Background()

	limit := 100
	window := time.Minute

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("ip:%d", i%1000)
			algo.IsAllowed(ctx, key, store, limit, window)
			i++
		}
	})
}
