package wire

import "testing"

func TestDispatcher_FIFOOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string

	d.Push(func(r string) error { order = append(order, "a:"+r); return nil })
	d.Push(func(r string) error { order = append(order, "b:"+r); return nil })
	d.Push(func(r string) error { order = append(order, "c:"+r); return nil })

	for _, r := range []string{"250 one", "250 two", "250 three"} {
		if err := d.Dispatch(r); err != nil {
			t.Fatalf("Dispatch(%q): %v", r, err)
		}
	}

	want := []string{"a:250 one", "b:250 two", "c:250 three"}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("order[%d] = %q, want %q", i, order[i], w)
		}
	}
}

func TestDispatcher_EmptyQueueIsUnexpected(t *testing.T) {
	d := NewDispatcher()
	if err := d.Dispatch("250 ok"); err != ErrUnexpectedResponse {
		t.Errorf("Dispatch() on empty queue = %v, want ErrUnexpectedResponse", err)
	}
}

func TestDispatcher_LenAndDrain(t *testing.T) {
	d := NewDispatcher()
	d.Push(func(string) error { return nil })
	d.Push(func(string) error { return nil })
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
	d.Drain()
	if d.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", d.Len())
	}
}

func TestDispatcher_HandlerErrorPropagates(t *testing.T) {
	d := NewDispatcher()
	sentinel := ErrUnexpectedResponse
	d.Push(func(string) error { return sentinel })
	if err := d.Dispatch("250 ok"); err != sentinel {
		t.Errorf("Dispatch() = %v, want %v", err, sentinel)
	}
}
