package whisper

import "testing"

func TestModelIDsCoverRegistry(t *testing.T) {
	ids := ModelIDs()
	if len(ids) != len(registry) {
		t.Fatalf("ModelIDs returned %d entries, registry has %d", len(ids), len(registry))
	}
	for _, id := range []string{"tiny", "base", "large-v3", "large-v3-turbo", "distil-large-v3"} {
		found := false
		for _, got := range ids {
			if got == id {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected model %q in registry", id)
		}
	}
}

func TestLookup(t *testing.T) {
	desc, err := Lookup("base.en")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !desc.EnglishOnly {
		t.Error("base.en should be english-only")
	}

	desc, err = Lookup("large-v3")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if desc.EnglishOnly {
		t.Error("large-v3 should not be english-only")
	}
	if desc.Memory != MemoryLarge {
		t.Errorf("large-v3 memory class = %q", desc.Memory)
	}
}

func TestLookupUnknownModel(t *testing.T) {
	_, err := Lookup("gigantic-v9")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("kind = %q, want %q", KindOf(err), KindNotFound)
	}
}
