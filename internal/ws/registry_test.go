package ws

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	c := newClient(ConnInfo{ConnID: "c1"}, 1)

	if err := registry.Register("c1", c); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one registered connection")
	}

	info, ok := registry.Lookup("c1")
	if !ok || info.ConnID != "c1" {
		t.Fatalf("expected lookup to find c1, got %v %v", info, ok)
	}

	if _, ok := registry.Lookup("missing"); ok {
		t.Fatalf("expected lookup miss for unknown id")
	}
}

func TestRegistryRejectsDuplicateConnection(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register("c1", newClient(ConnInfo{ConnID: "c1"}, 1)); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	err := registry.Register("c1", newClient(ConnInfo{ConnID: "c1"}, 1))
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestRegistryDeregisterIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	c := newClient(ConnInfo{ConnID: "c1"}, 1)

	if err := registry.Register("c1", c); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	registry.Deregister("c1")
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry after deregister")
	}
	if _, ok := <-c.send; ok {
		t.Fatalf("expected send queue to be closed")
	}

	// Second removal of the same id is a no-op.
	registry.Deregister("c1")
	registry.Deregister("never-registered")
}

func TestRegistryEachVisitsAllClients(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := registry.Register(id, newClient(ConnInfo{ConnID: id}, 1)); err != nil {
			t.Fatalf("unexpected register error: %v", err)
		}
	}

	seen := map[string]bool{}
	registry.each(func(c *client) {
		seen[c.info.ConnID] = true
	})
	if len(seen) != 3 {
		t.Fatalf("expected to visit 3 clients, visited %d", len(seen))
	}
}
