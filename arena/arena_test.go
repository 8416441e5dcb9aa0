package arena

import (
	"bytes"
	"testing"
)

func TestAllocAndCopy(t *testing.T) {
	a := New()
	defer a.Close()

	b := a.Alloc(16)
	if len(b) != 16 {
		t.Error("expecting 16 bytes, got:", len(b))
	}
	src := []byte("hello")
	c := a.Copy(src)
	src[0] = 'X'
	if !bytes.Equal(c, []byte("hello")) {
		t.Error("copy must not alias the source")
	}
	if string(a.Str("abc")) != "abc" {
		t.Error("str copy wrong")
	}
}

func TestAllocOversized(t *testing.T) {
	a := NewSize(64)
	defer a.Close()
	b := a.Alloc(1024)
	if len(b) != 1024 {
		t.Error("oversized alloc wrong length")
	}
}

func TestAllocationsDontOverlap(t *testing.T) {
	a := NewSize(64)
	defer a.Close()
	x := a.Copy([]byte("xxxx"))
	y := a.Copy([]byte("yyyy"))
	if string(x) != "xxxx" || string(y) != "yyyy" {
		t.Error("allocations overlap:", string(x), string(y))
	}
	// appending to one must not bleed into the other
	x = append(x, 'z')
	if string(y) != "yyyy" {
		t.Error("append leaked into the next allocation")
	}
}

func TestFinalizerOrder(t *testing.T) {
	a := New()
	var order []int
	a.OnClose(func() { order = append(order, 1) })
	a.OnClose(func() { order = append(order, 2) })
	a.OnClose(func() { order = append(order, 3) })
	a.Close()
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Error("destructors must run in reverse registration order:", order)
	}
	// idempotent
	a.Close()
	if len(order) != 3 {
		t.Error("close ran destructors twice")
	}
}
