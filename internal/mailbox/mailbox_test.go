package mailbox_test

import (
	"testing"
	"time"

	"github.com/aesatchien/darkview/internal/mailbox"
)

// TestPutOverwrites validates the single-slot eviction policy: the consumer
// always sees the newest record and evictions count as drops.
func TestPutOverwrites(t *testing.T) {
	m := mailbox.New[int]()
	m.Put(1)
	m.Put(2)
	m.Put(3)

	v, ok := m.Get(time.Millisecond)
	if !ok || v != 3 {
		t.Fatalf("Get = (%d, %v), want newest record 3", v, ok)
	}

	s := m.Stats()
	if s.Puts != 3 || s.Takes != 1 || s.Drops != 2 {
		t.Errorf("stats = %+v, want puts=3 takes=1 drops=2", s)
	}
}

// TestPutNonBlocking: a producer must never stall on a full slot, even with
// no consumer at all.
func TestPutNonBlocking(t *testing.T) {
	m := mailbox.New[int]()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		m.Put(i)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("1000 Puts took %v, producer must not block", elapsed)
	}
}

// TestOfferBoundedBlock: Offer waits for the slot to free, but only up to
// its timeout.
func TestOfferBoundedBlock(t *testing.T) {
	m := mailbox.New[int]()
	m.Put(1)

	start := time.Now()
	if m.Offer(2, 50*time.Millisecond) {
		t.Fatal("Offer on a full slot should time out")
	}
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond || elapsed > time.Second {
		t.Errorf("Offer returned after %v, want ~50ms", elapsed)
	}

	if v, ok := m.Get(time.Millisecond); !ok || v != 1 {
		t.Fatalf("Get = (%d, %v), the timed-out Offer must not replace the slot", v, ok)
	}
	if !m.Offer(3, 50*time.Millisecond) {
		t.Error("Offer into a free slot failed")
	}
}

func TestGetTimesOutEmpty(t *testing.T) {
	m := mailbox.New[string]()

	start := time.Now()
	_, ok := m.Get(50 * time.Millisecond)
	if ok {
		t.Fatal("Get on an empty mailbox reported a record")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Get returned after %v, want it to wait ~50ms", elapsed)
	}
}

// TestGetWakesOnPut: a waiting consumer is woken by a producer, well before
// its timeout.
func TestGetWakesOnPut(t *testing.T) {
	m := mailbox.New[int]()

	go func() {
		time.Sleep(30 * time.Millisecond)
		m.Put(7)
	}()

	start := time.Now()
	v, ok := m.Get(2 * time.Second)
	if !ok || v != 7 {
		t.Fatalf("Get = (%d, %v), want 7", v, ok)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Get took %v, should wake on Put", elapsed)
	}
}

// TestPeekDoesNotConsume: monitors may observe the slot without disturbing
// the pipeline consumer.
func TestPeekDoesNotConsume(t *testing.T) {
	m := mailbox.New[int]()
	if _, ok := m.Peek(); ok {
		t.Fatal("Peek on empty mailbox reported a record")
	}

	m.Put(9)
	for i := 0; i < 3; i++ {
		if v, ok := m.Peek(); !ok || v != 9 {
			t.Fatalf("Peek #%d = (%d, %v), want 9", i, v, ok)
		}
	}
	if s := m.Stats(); s.Takes != 0 {
		t.Errorf("takes = %d after Peeks, want 0", s.Takes)
	}

	if v, ok := m.Get(time.Millisecond); !ok || v != 9 {
		t.Fatalf("Get after Peek = (%d, %v), want 9", v, ok)
	}
}

// TestClose: close is idempotent and rejects inserts; a record already in
// the slot drains through one final Get, then Get fails fast.
func TestClose(t *testing.T) {
	m := mailbox.New[int]()
	m.Put(4)
	m.Close()
	m.Close()

	m.Put(5)
	if v, _ := m.Peek(); v != 4 {
		t.Errorf("Put after Close replaced the slot with %d", v)
	}
	if m.Offer(6, 10*time.Millisecond) {
		t.Error("Offer after Close succeeded")
	}

	if v, ok := m.Get(time.Millisecond); !ok || v != 4 {
		t.Fatalf("draining Get = (%d, %v), want 4", v, ok)
	}

	start := time.Now()
	if _, ok := m.Get(5 * time.Second); ok {
		t.Error("Get on drained closed mailbox reported a record")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Get on closed mailbox took %v, want immediate return", elapsed)
	}
}

// TestCloseWakesWaiters: a consumer blocked in Get returns promptly when
// the mailbox closes underneath it.
func TestCloseWakesWaiters(t *testing.T) {
	m := mailbox.New[int]()

	done := make(chan bool, 1)
	go func() {
		_, ok := m.Get(5 * time.Second)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Get reported a record after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not wake on Close")
	}
}
