package session

import (
	"sync"
	"testing"
)

func TestLastSpeaker_GetUnseenChannel(t *testing.T) {
	ls := NewLastSpeaker()
	if name, ok := ls.Get("ch1"); ok {
		t.Errorf("unseen channel returned %q, want absent", name)
	}
}

func TestLastSpeaker_SetOverwrites(t *testing.T) {
	ls := NewLastSpeaker()
	ls.Set("ch1", "Edith")

	name, ok := ls.Get("ch1")
	if !ok || name != "Edith" {
		t.Fatalf("Get = %q, %v; want Edith, true", name, ok)
	}

	ls.Set("ch1", "Kjøkken")
	if name, _ := ls.Get("ch1"); name != "Kjøkken" {
		t.Errorf("after overwrite Get = %q, want Kjøkken", name)
	}
}

func TestLastSpeaker_ChannelsIndependent(t *testing.T) {
	ls := NewLastSpeaker()
	ls.Set("ch1", "Edith")
	ls.Set("ch2", "TV")

	if name, _ := ls.Get("ch1"); name != "Edith" {
		t.Errorf("ch1 = %q, want Edith", name)
	}
	if name, _ := ls.Get("ch2"); name != "TV" {
		t.Errorf("ch2 = %q, want TV", name)
	}
}

func TestLastSpeaker_ConcurrentAccess(t *testing.T) {
	ls := NewLastSpeaker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ls.Set("ch1", "Edith")
		}()
		go func() {
			defer wg.Done()
			ls.Get("ch1")
		}()
	}
	wg.Wait()

	if name, ok := ls.Get("ch1"); !ok || name != "Edith" {
		t.Errorf("after concurrent writes Get = %q, %v; want Edith, true", name, ok)
	}
}
