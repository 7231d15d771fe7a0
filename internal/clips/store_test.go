package clips

import (
	"errors"
	"sync"
	"testing"
)

func refs(list []Clip) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.Ref
	}
	return out
}

func filled(n int) *Store {
	s := NewStore()
	for i := 0; i < n; i++ {
		s.Append(string(rune('a' + i)))
	}
	return s
}

// --- Append ---

func TestAppendAssignsNextIndex(t *testing.T) {
	s := NewStore()
	a := s.Append("a")
	b := s.Append("b")
	if a.Index != 0 || b.Index != 1 {
		t.Errorf("indices = %d,%d, want 0,1", a.Index, b.Index)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("clip IDs should be unique and non-empty: %q %q", a.ID, b.ID)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

// --- RemoveAt ---

func TestRemoveAtRenumbers(t *testing.T) {
	for i := 0; i < 4; i++ {
		s := filled(4)
		before := refs(s.List())

		removed, err := s.RemoveAt(i)
		if err != nil {
			t.Fatalf("RemoveAt(%d): %v", i, err)
		}
		if removed.Ref != before[i] {
			t.Errorf("RemoveAt(%d) removed %q, want %q", i, removed.Ref, before[i])
		}

		list := s.List()
		if len(list) != 3 {
			t.Fatalf("RemoveAt(%d): len = %d, want 3", i, len(list))
		}
		want := append(append([]string{}, before[:i]...), before[i+1:]...)
		for j, c := range list {
			if c.Index != j {
				t.Errorf("RemoveAt(%d): clip %d has Index %d", i, j, c.Index)
			}
			if c.Ref != want[j] {
				t.Errorf("RemoveAt(%d): clip %d = %q, want %q", i, j, c.Ref, want[j])
			}
		}
	}
}

func TestRemoveAtOutOfRange(t *testing.T) {
	s := filled(3)
	notified := 0
	s.Subscribe(func([]Clip) { notified++ })

	for _, i := range []int{-1, 3, 42} {
		if _, err := s.RemoveAt(i); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("RemoveAt(%d) err = %v, want ErrOutOfRange", i, err)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want unchanged 3", s.Len())
	}
	if notified != 0 {
		t.Errorf("observers notified %d times on failed removal", notified)
	}
}

// --- Observers ---

func TestObserversSeeEveryMutation(t *testing.T) {
	s := NewStore()
	var seen [][]Clip
	cancel := s.Subscribe(func(list []Clip) { seen = append(seen, list) })

	s.Append("a")
	s.Append("b")
	s.RemoveAt(0)
	s.Clear()

	if len(seen) != 4 {
		t.Fatalf("notifications = %d, want 4", len(seen))
	}
	if got := refs(seen[1]); len(got) != 2 || got[1] != "b" {
		t.Errorf("second notification = %v, want [a b]", got)
	}
	if len(seen[3]) != 0 {
		t.Errorf("Clear notification = %v, want empty", seen[3])
	}

	cancel()
	s.Append("c")
	if len(seen) != 4 {
		t.Error("cancelled observer was still notified")
	}
}

func TestObserverMayReadStore(t *testing.T) {
	s := NewStore()
	var got int
	s.Subscribe(func([]Clip) { got = s.Len() })
	s.Append("a")
	if got != 1 {
		t.Errorf("observer read Len = %d, want 1", got)
	}
}

func TestLastNotificationMatchesList(t *testing.T) {
	s := filled(4)
	var (
		mu   sync.Mutex
		last []Clip
	)
	s.Subscribe(func(list []Clip) {
		mu.Lock()
		last = list
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if j%2 == 0 {
					s.Append("x")
				} else {
					s.RemoveAt(0)
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := s.List()
	if len(last) != len(want) {
		t.Fatalf("last notification has %d clips, store has %d", len(last), len(want))
	}
	for i := range want {
		if last[i].ID != want[i].ID {
			t.Errorf("last notification[%d] = %s, want %s", i, last[i].ID, want[i].ID)
		}
	}
}

func TestListIsACopy(t *testing.T) {
	s := filled(2)
	list := s.List()
	list[0].Ref = "mutated"
	if c, _ := s.At(0); c.Ref == "mutated" {
		t.Error("List exposed internal storage")
	}
}

// --- Playing flags ---

func TestSetPlaying(t *testing.T) {
	s := filled(2)
	if err := s.SetPlaying(1, true); err != nil {
		t.Fatal(err)
	}
	if c, _ := s.At(1); !c.Playing {
		t.Error("clip 1 should be playing")
	}
	if err := s.SetPlaying(2, true); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("SetPlaying(2) err = %v, want ErrOutOfRange", err)
	}

	id := s.List()[1].ID
	s.RemoveAt(0)
	s.SetPlayingByID(id, false)
	if c, _ := s.At(0); c.Playing {
		t.Error("SetPlayingByID should follow the clip after renumbering")
	}
}

func TestSetPlayingByIDUnknownClip(t *testing.T) {
	s := filled(3)
	id := s.List()[1].ID
	s.RemoveAt(1)

	notified := 0
	s.Subscribe(func([]Clip) { notified++ })
	if s.SetPlayingByID(id, true) {
		t.Error("SetPlayingByID of a removed clip = true, want false")
	}
	for i, c := range s.List() {
		if c.Playing {
			t.Errorf("clip %d flagged playing after a removed id was set", i)
		}
	}
	if notified != 0 {
		t.Errorf("notifications = %d, want 0", notified)
	}

	if !s.SetPlayingByID(s.List()[1].ID, true) {
		t.Error("SetPlayingByID of a live clip = false, want true")
	}
	if c, _ := s.At(1); !c.Playing {
		t.Error("clip 1 should be playing")
	}
}
