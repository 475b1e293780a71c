package stream

import (
	"testing"

	"github.com/zsiec/framestream/pipeline"
)

type staticStats pipeline.Stats

func (s staticStats) Stats() pipeline.Stats { return pipeline.Stats(s) }

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create("cam-1", staticStats{ID: "abc", Produced: 7})
	if !ok || s == nil {
		t.Fatal("Create failed for a new key")
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	got, ok := m.Get("cam-1")
	if !ok || got != s {
		t.Fatal("Get should return the created stream")
	}
	if st := got.Stats(); st.ID != "abc" || st.Produced != 7 {
		t.Errorf("Stats = %+v", st)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get returned a stream for an unknown key")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if _, ok := m.Create("cam", staticStats{}); !ok {
		t.Fatal("first Create should succeed")
	}
	s, ok := m.Create("cam", staticStats{})
	if ok || s != nil {
		t.Error("duplicate Create should return nil, false")
	}
}

func TestManagerRemoveClosesDone(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create("cam", staticStats{})
	m.Remove("cam")
	m.Remove("cam")

	select {
	case <-s.Done():
	default:
		t.Error("Done should be closed after Remove")
	}
	if n := len(m.List()); n != 0 {
		t.Errorf("count after remove: got %d, want 0", n)
	}
}

func TestManagerListIsSorted(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	for _, key := range []string{"c", "a", "b"} {
		m.Create(key, staticStats{ID: key})
	}

	infos := m.Snapshot()
	if len(infos) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(infos))
	}
	for i, want := range []string{"a", "b", "c"} {
		if infos[i].Key != want || infos[i].Stats.ID != want {
			t.Errorf("entry %d = %q/%q, want %q", i, infos[i].Key, infos[i].Stats.ID, want)
		}
	}
}
