package adapters

import "testing"

func TestMemoryStorageAdapter(t *testing.T) {
	adapter := NewMemoryStorageAdapter()

	if err := adapter.Set("key", "value"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	value, err := adapter.Get("key")
	if err != nil || value != "value" {
		t.Fatalf("Get = (%q, %v), want (value, nil)", value, err)
	}

	if value, _ := adapter.Get("absent"); value != "" {
		t.Fatalf("missing key returned %q", value)
	}

	if err := adapter.Remove("key"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if value, _ := adapter.Get("key"); value != "" {
		t.Fatal("expected key to be gone after Remove")
	}
}
