package udpalloc

import (
	"fmt"
	"net"
	"testing"
)

// bound reports whether port on 127.0.0.1 is held by someone else.
func bound(port int) bool {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return true
	}
	pc.Close()
	return false
}

// TestReservePairBindsAndRelease verifies that ReservePair binds both sockets
// and release unbinds them.
func TestReservePairBindsAndRelease(t *testing.T) {
	// pick a reasonably high port range to reduce collision likelihood
	alloc, err := NewAllocator("127.0.0.1", 40000, 2, 5)
	if err != nil {
		t.Fatalf("failed to create allocator: %v", err)
	}

	p, release, err := alloc.ReservePair()
	if err != nil {
		t.Fatalf("ReservePair failed: %v", err)
	}
	// ensure we release at the end
	defer release()

	if p.User != p.Meta+1 {
		t.Fatalf("expected user port next to meta port, got %+v", p)
	}
	if (p.Meta-40000)%2 != 0 || p.Meta != 40000+2*p.Participant {
		t.Fatalf("unexpected port layout %+v", p)
	}

	if !bound(p.Meta) {
		t.Fatalf("expected metatraffic port %d to be bound", p.Meta)
	}
	if !bound(p.User) {
		t.Fatalf("expected user port %d to be bound", p.User)
	}
	if alloc.Reserved() != 1 {
		t.Fatalf("expected 1 reserved pair, got %d", alloc.Reserved())
	}

	// release and ensure they are removed
	release()
	if bound(p.Meta) {
		t.Fatalf("expected port %d to be released", p.Meta)
	}
	if bound(p.User) {
		t.Fatalf("expected port %d to be released", p.User)
	}
	if alloc.Reserved() != 0 {
		t.Fatalf("expected 0 reserved pairs, got %d", alloc.Reserved())
	}
}

// TestReserveExhaustion ensures allocator returns an error when no slots remain
func TestReserveExhaustion(t *testing.T) {
	alloc, err := NewAllocator("127.0.0.1", 41000, 2, 1) // only one pair available
	if err != nil {
		t.Fatalf("failed to create allocator: %v", err)
	}

	_, release, err := alloc.ReservePair()
	if err != nil {
		t.Fatalf("first ReservePair failed: %v", err)
	}
	defer release()

	if _, _, err := alloc.ReservePair(); err != ErrNoPorts {
		t.Fatalf("expected ErrNoPorts when slots exhausted, got %v", err)
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	alloc, err := NewAllocator("127.0.0.1", 41100, 2, 2)
	if err != nil {
		t.Fatalf("failed to create allocator: %v", err)
	}
	first, rel1, err := alloc.ReservePair()
	if err != nil {
		t.Fatalf("reserve first: %v", err)
	}
	second, rel2, err := alloc.ReservePair()
	if err != nil {
		t.Fatalf("reserve second: %v", err)
	}
	defer rel2()
	if first.Participant == second.Participant {
		t.Fatalf("expected distinct participant slots, got %d twice", first.Participant)
	}

	rel1()
	rel1() // idempotent
	again, rel3, err := alloc.ReservePair()
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	defer rel3()
	if again.Participant != first.Participant {
		t.Fatalf("expected slot %d to be reused, got %d", first.Participant, again.Participant)
	}
}

func TestNewAllocatorRejectsBadLayout(t *testing.T) {
	if _, err := NewAllocator("", 0, 2, 1); err == nil {
		t.Fatalf("expected error for zero base")
	}
	if _, err := NewAllocator("", 7400, 1, 1); err == nil {
		t.Fatalf("expected error for gain < 2")
	}
	if _, err := NewAllocator("", 65530, 2, 10); err == nil {
		t.Fatalf("expected error for range beyond 65535")
	}
}
