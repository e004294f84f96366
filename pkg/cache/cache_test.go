package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/vecstore/pkg/vector"
	"github.com/Zereker/vecstore/pkg/vector/memory"
)

// countingBackend 统计落到后端的 Get 次数
type countingBackend struct {
	*memory.Backend
	gets atomic.Int32
}

func (b *countingBackend) Get(ctx context.Context, collection, id string) (*vector.Record, error) {
	b.gets.Add(1)
	return b.Backend.Get(ctx, collection, id)
}

func setup(t *testing.T) (vector.Backend, *countingBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingBackend{Backend: memory.New()}
	b := Wrap(inner, client, time.Minute)

	ctx := context.Background()
	require.NoError(t, b.CreateCollection(ctx, vector.Collection{Name: "mem0", Dims: 2, Metric: vector.MetricCosine}))
	errs, err := b.Insert(ctx, "mem0", []vector.Record{
		{ID: "a", Vector: []float32{1, 0}, Payload: vector.Payload{"user_id": "alice"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: vector.Payload{"user_id": "bob"}},
	})
	require.NoError(t, err)
	for _, e := range errs {
		require.NoError(t, e)
	}
	return b, inner, mr
}

func TestReadThrough(t *testing.T) {
	ctx := context.Background()
	b, inner, mr := setup(t)

	rec, err := b.Get(ctx, "mem0", "a")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Payload["user_id"])

	rec, err = b.Get(ctx, "mem0", "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, rec.Vector)
	assert.Equal(t, "alice", rec.Payload["user_id"])
	assert.Equal(t, int32(1), inner.gets.Load())

	assert.True(t, mr.Exists(recordKey("mem0", 1, "a")))
	assert.Equal(t, time.Minute, mr.TTL(recordKey("mem0", 1, "a")))

	t.Run("MissesAreNotCached", func(t *testing.T) {
		_, err := b.Get(ctx, "mem0", "zzz")
		assert.ErrorIs(t, err, vector.ErrNotFound)
		assert.False(t, mr.Exists(recordKey("mem0", 1, "zzz")))
	})
}

func TestInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("Update", func(t *testing.T) {
		b, inner, _ := setup(t)
		_, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)

		require.NoError(t, b.Update(ctx, "mem0", "a", vector.RecordUpdate{Payload: vector.Payload{"kind": "fact"}}))

		rec, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)
		assert.Equal(t, "fact", rec.Payload["kind"])
		assert.Equal(t, int32(2), inner.gets.Load())
	})

	t.Run("Delete", func(t *testing.T) {
		b, _, _ := setup(t)
		_, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)

		require.NoError(t, b.Delete(ctx, "mem0", "a"))
		_, err = b.Get(ctx, "mem0", "a")
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})

	t.Run("DeleteByFilterBumpsGeneration", func(t *testing.T) {
		b, _, mr := setup(t)
		_, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)

		n, err := b.DeleteByFilter(ctx, "mem0", vector.Filter{"user_id": "alice"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		gen, err := mr.Get(genKey("mem0"))
		require.NoError(t, err)
		assert.Equal(t, "2", gen)

		_, err = b.Get(ctx, "mem0", "a")
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})
}

// racingBackend 在后端读完、回填缓存之前执行 interleave，模拟并发写
type racingBackend struct {
	*memory.Backend
	interleave func()
}

func (b *racingBackend) Get(ctx context.Context, collection, id string) (*vector.Record, error) {
	rec, err := b.Backend.Get(ctx, collection, id)
	if b.interleave != nil {
		run := b.interleave
		b.interleave = nil
		run()
	}
	return rec, err
}

func TestConcurrentWriteDuringFill(t *testing.T) {
	ctx := context.Background()

	setupRacing := func(t *testing.T) (vector.Backend, *racingBackend, *miniredis.Miniredis) {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		inner := &racingBackend{Backend: memory.New()}
		b := Wrap(inner, client, time.Minute)
		require.NoError(t, b.CreateCollection(ctx, vector.Collection{Name: "mem0", Dims: 1, Metric: vector.MetricCosine}))
		_, err := b.Insert(ctx, "mem0", []vector.Record{{ID: "a", Vector: []float32{1}}})
		require.NoError(t, err)
		return b, inner, mr
	}

	t.Run("Delete", func(t *testing.T) {
		b, inner, mr := setupRacing(t)
		inner.interleave = func() {
			require.NoError(t, b.Delete(ctx, "mem0", "a"))
		}

		rec, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)
		assert.Equal(t, "a", rec.ID)
		assert.False(t, mr.Exists(recordKey("mem0", 1, "a")))

		_, err = b.Get(ctx, "mem0", "a")
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		b, inner, _ := setupRacing(t)
		inner.interleave = func() {
			require.NoError(t, b.Update(ctx, "mem0", "a", vector.RecordUpdate{Payload: vector.Payload{"kind": "fact"}}))
		}

		_, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)

		rec, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)
		assert.Equal(t, "fact", rec.Payload["kind"])
	})

	t.Run("FillAfterWriteIsKept", func(t *testing.T) {
		b, _, mr := setupRacing(t)
		require.NoError(t, b.Update(ctx, "mem0", "a", vector.RecordUpdate{Payload: vector.Payload{"kind": "note"}}))

		_, err := b.Get(ctx, "mem0", "a")
		require.NoError(t, err)
		assert.True(t, mr.Exists(recordKey("mem0", 1, "a")))
		assert.Equal(t, 2*time.Minute, mr.TTL(versionKey("mem0", "a")))
	})
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	b, inner, mr := setup(t)
	mr.Close()

	rec, err := b.Get(ctx, "mem0", "b")
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.Payload["user_id"])
	assert.Equal(t, int32(1), inner.gets.Load())

	assert.NoError(t, b.Delete(ctx, "mem0", "b"))
}

func TestWrapNilClient(t *testing.T) {
	inner := memory.New()
	assert.Same(t, inner, Wrap(inner, nil, time.Minute))
}
