package utils

import "testing"

func TestValidKey(t *testing.T) {
	cases := map[string]bool{
		"compose.document": true,
		"view":             true,
		"hr.staff_list-v2": true,
		"":                 false,
		".compose":         false,
		"compose.":         false,
		"compose..doc":     false,
		"Compose":          false,
		"compose doc":      false,
	}
	for key, want := range cases {
		if got := ValidKey(key); got != want {
			t.Fatalf("ValidKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	if got := NormalizeKey("  Compose.Document "); got != "compose.document" {
		t.Fatalf("unexpected normalized key %q", got)
	}
}

func TestValidIdentifier(t *testing.T) {
	if !ValidIdentifier("owner_id") || !ValidIdentifier("_x1") {
		t.Fatalf("expected identifiers to be valid")
	}
	if ValidIdentifier("1owner") || ValidIdentifier("owner.id") || ValidIdentifier("") {
		t.Fatalf("expected identifiers to be invalid")
	}
}
