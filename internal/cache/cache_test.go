package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/xxxuuu/lasagnedb/internal/block"
	"github.com/xxxuuu/lasagnedb/internal/compression"
	"github.com/xxxuuu/lasagnedb/internal/dbformat"
)

func fakeBlock(t *testing.T, n int) *block.Block {
	t.Helper()
	b := block.NewBuilder(compression.None)
	for i := 0; i < n; i++ {
		key := dbformat.Build([]byte(fmt.Sprintf("k%02d", i)), dbformat.SequenceNumber(i+1), dbformat.OpPut)
		if err := b.Add(dbformat.Entry{Meta: dbformat.MetaByte(dbformat.OpPut, false), Key: key, Value: []byte("v")}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	blk, err := block.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return blk
}

func TestInsertLookupHitAndMiss(t *testing.T) {
	c := New(1000)
	blk := fakeBlock(t, 3)
	key := Key{TableID: 1, BlockIdx: 0}

	if _, ok := c.Lookup(key); ok {
		t.Fatalf("Lookup on empty cache reported a hit")
	}
	c.Insert(key, blk, 10)
	got, ok := c.Lookup(key)
	if !ok || got != blk {
		t.Fatalf("Lookup after Insert = %v,%v, want the inserted block", got, ok)
	}
	if c.HitCount() != 1 || c.MissCount() != 1 {
		t.Fatalf("HitCount=%d MissCount=%d, want 1,1", c.HitCount(), c.MissCount())
	}
}

func TestEvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	c := New(20)
	b1, b2, b3 := fakeBlock(t, 1), fakeBlock(t, 1), fakeBlock(t, 1)
	k1, k2, k3 := Key{TableID: 1}, Key{TableID: 2}, Key{TableID: 3}

	c.Insert(k1, b1, 10)
	c.Insert(k2, b2, 10)
	// k1 is now least-recently-used; inserting k3 must evict it.
	c.Insert(k3, b3, 10)

	if _, ok := c.Lookup(k1); ok {
		t.Fatalf("k1 should have been evicted")
	}
	if _, ok := c.Lookup(k2); !ok {
		t.Fatalf("k2 should still be cached")
	}
	if _, ok := c.Lookup(k3); !ok {
		t.Fatalf("k3 should still be cached")
	}
	if c.Usage() > c.Capacity() {
		t.Fatalf("Usage %d exceeds Capacity %d", c.Usage(), c.Capacity())
	}
}

func TestEraseRemovesEntry(t *testing.T) {
	c := New(100)
	blk := fakeBlock(t, 1)
	key := Key{TableID: 1}
	c.Insert(key, blk, 5)
	c.Erase(key)
	if _, ok := c.Lookup(key); ok {
		t.Fatalf("Lookup after Erase found the entry")
	}
}

func TestGetOrLoadCachesAfterFirstMiss(t *testing.T) {
	c := New(1000)
	key := Key{TableID: 7}
	loads := 0
	load := func() (*block.Block, error) {
		loads++
		return fakeBlock(t, 1), nil
	}

	if _, err := c.GetOrLoad(key, load); err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	if _, err := c.GetOrLoad(key, load); err != nil {
		t.Fatalf("GetOrLoad (cached): %v", err)
	}
	if loads != 1 {
		t.Fatalf("loads = %d, want 1 (second call should hit cache)", loads)
	}
}

func TestGetOrLoadCoalescesConcurrentMisses(t *testing.T) {
	c := New(1000)
	key := Key{TableID: 9}
	var loads int
	var mu sync.Mutex
	release := make(chan struct{})
	load := func() (*block.Block, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		<-release
		return fakeBlock(t, 1), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrLoad(key, load); err != nil {
				t.Errorf("GetOrLoad: %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if loads != 1 {
		t.Fatalf("loads = %d, want 1 (concurrent misses should coalesce)", loads)
	}
}

func TestHitRateComputation(t *testing.T) {
	c := New(1000)
	key := Key{TableID: 1}
	blk := fakeBlock(t, 1)
	c.Insert(key, blk, 5)

	c.Lookup(key)              // hit
	c.Lookup(Key{TableID: 99}) // miss

	if rate := c.HitRate(); rate != 0.5 {
		t.Fatalf("HitRate() = %v, want 0.5", rate)
	}
}
