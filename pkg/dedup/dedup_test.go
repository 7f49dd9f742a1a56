package dedup

import (
	"testing"
	"time"
)

func TestSuppressWithinTTL(t *testing.T) {
	d := New(time.Minute, 100)
	if !d.ShouldProcess("a") {
		t.Fatal("first sight suppressed")
	}
	if d.ShouldProcess("a") {
		t.Fatal("repeat within TTL not suppressed")
	}
	if !d.ShouldProcess("b") {
		t.Fatal("unrelated id suppressed")
	}
}

func TestExpiredEntryProcessedAgain(t *testing.T) {
	d := New(10*time.Millisecond, 100)
	d.ShouldProcess("a")
	time.Sleep(20 * time.Millisecond)
	if !d.ShouldProcess("a") {
		t.Fatal("expired entry still suppressed")
	}
}

func TestEmptyIDAlwaysProcessed(t *testing.T) {
	d := New(time.Minute, 100)
	if !d.ShouldProcess("") || !d.ShouldProcess("") {
		t.Fatal("empty id suppressed")
	}
}

func TestReset(t *testing.T) {
	d := New(time.Minute, 100)
	d.ShouldProcess("a")
	d.Reset()
	if !d.ShouldProcess("a") {
		t.Fatal("reset did not forget")
	}
}
