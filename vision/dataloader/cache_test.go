package dataloader

import (
	"strings"
	"testing"

	"github.com/samuelsimko/scaling-mlps/tensor"
)

type countingDataset struct {
	n     int
	reads map[int]int
}

func (d *countingDataset) Len() int { return d.n }

func (d *countingDataset) Get(idx int) (*tensor.Tensor, int32, error) {
	d.reads[idx]++
	t, err := tensor.NewTensor([]int{1}, []float32{float32(idx)})
	return t, int32(idx % 2), err
}

func TestCacheManagerEviction(t *testing.T) {
	cm := NewCacheManager(2)
	one, _ := tensor.NewTensor([]int{1}, []float32{1})

	cm.Put(1, one, 1)
	cm.Put(2, one, 0)
	if _, _, ok := cm.Get(1); !ok { // 1 becomes most recent
		t.Fatal("expected hit for key 1")
	}
	cm.Put(3, one, 1) // evicts 2

	if _, _, ok := cm.Get(2); ok {
		t.Error("key 2 should have been evicted")
	}
	if _, label, ok := cm.Get(1); !ok || label != 1 {
		t.Errorf("key 1 lost: ok=%v label=%d", ok, label)
	}

	stats := cm.Stats()
	if stats.Size != 2 || stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !strings.Contains(stats.String(), "2/2 items") {
		t.Errorf("unexpected stats string %q", stats.String())
	}
}

func TestCacheManagerDisabled(t *testing.T) {
	cm := NewCacheManager(0)
	one, _ := tensor.NewTensor([]int{1}, []float32{1})
	cm.Put(1, one, 0)
	if _, _, ok := cm.Get(1); ok {
		t.Error("zero-sized cache should not store samples")
	}
}

func TestCachedDatasetReadsThrough(t *testing.T) {
	src := &countingDataset{n: 4, reads: make(map[int]int)}
	ds := NewCachedDataset(src, NewCacheManager(8))

	for pass := 0; pass < 3; pass++ {
		for i := 0; i < ds.Len(); i++ {
			data, label, err := ds.Get(i)
			if err != nil {
				t.Fatalf("get %d failed: %v", i, err)
			}
			if data.Data[0] != float32(i) || label != int32(i%2) {
				t.Errorf("sample %d returned %v/%d", i, data.Data[0], label)
			}
		}
	}
	for i := 0; i < 4; i++ {
		if src.reads[i] != 1 {
			t.Errorf("sample %d read %d times from source, expected 1", i, src.reads[i])
		}
	}
	if rate := ds.Stats().HitRate; rate < 66 || rate > 67 {
		t.Errorf("hit rate %.2f, expected 66.7", rate)
	}
}
