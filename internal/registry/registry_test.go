package registry

import (
	"errors"
	"testing"
)

type fakeConn struct {
	id      string
	sent    []string
	sendErr error
	closed  bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(event string, data any) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestRegistry_AddRemove(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c1"}

	r.Add(c)
	if !r.IsAlive("c1") {
		t.Error("c1 should be alive after Add")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}

	r.Remove("c1")
	if r.IsAlive("c1") {
		t.Error("c1 should be dead after Remove")
	}
	if c.closed {
		t.Error("Remove must not close the transport")
	}
}

func TestRegistry_IsAliveEmptyID(t *testing.T) {
	r := New()
	if r.IsAlive("") {
		t.Error("empty id must never be alive")
	}
}

func TestRegistry_Send(t *testing.T) {
	r := New()
	c := &fakeConn{id: "c1"}
	r.Add(c)

	if !r.Send("c1", "hello", nil) {
		t.Error("Send to live conn should succeed")
	}
	if len(c.sent) != 1 || c.sent[0] != "hello" {
		t.Errorf("sent = %v", c.sent)
	}

	if r.Send("missing", "hello", nil) {
		t.Error("Send to unknown conn should report failure")
	}

	c.sendErr = errors.New("broken pipe")
	if r.Send("c1", "hello", nil) {
		t.Error("Send over failing transport should report failure")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := New()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Add(a)
	r.Add(b)

	r.CloseAll()

	if r.Count() != 0 {
		t.Errorf("Count = %d after CloseAll", r.Count())
	}
	if !a.closed || !b.closed {
		t.Error("CloseAll must close every transport")
	}
}
