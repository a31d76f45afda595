package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCatalog = `
projects:
  - id: vgp
    name: Vinhomes Grand Park
    aliases: [VGP, Grand Park]
  - id: masteri-centre-point
    name: Masteri Centre Point
property_types:
  - id: studio
    name: Studio
  - id: apartment-2br
    name: Two Bedroom Apartment
  - id: shophouse
    name: Shophouse
`

func TestParseAndResolve(t *testing.T) {
	parsed, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	if !parsed.HasProject("vgp") || parsed.HasProject("unknown") {
		t.Fatal("unexpected project membership")
	}

	cases := []struct {
		name   string
		wantID string
		wantOK bool
	}{
		{name: "Studio", wantID: "studio", wantOK: true},
		{name: "shophouse", wantID: "shophouse", wantOK: true},
		{name: "two bedroom", wantID: "apartment-2br", wantOK: true},
		{name: "Penthouse", wantOK: false},
		{name: "  ", wantOK: false},
	}
	for _, tc := range cases {
		id, ok := parsed.ResolvePropertyType(tc.name)
		if ok != tc.wantOK || id != tc.wantID {
			t.Fatalf("ResolvePropertyType(%q) = %q, %v; want %q, %v", tc.name, id, ok, tc.wantID, tc.wantOK)
		}
	}

	if id, ok := parsed.ResolveProject("Grand Park"); !ok || id != "vgp" {
		t.Fatalf("expected alias resolution, got %q %v", id, ok)
	}
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	_, err := Parse([]byte("projects:\n  - id: a\n  - id: a\n"))
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestKnowledgeListsClosedSets(t *testing.T) {
	parsed, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	knowledge := parsed.Knowledge()
	for _, want := range []string{"- vgp: Vinhomes Grand Park (also: VGP, Grand Park)", "- studio: Studio", "Property types:"} {
		if !strings.Contains(knowledge, want) {
			t.Fatalf("expected knowledge to contain %q, got:\n%s", want, knowledge)
		}
	}
	empty := Catalog{}.Knowledge()
	if !strings.Contains(empty, "(none configured)") {
		t.Fatalf("expected placeholder for empty catalog, got %q", empty)
	}
}

func TestHolderReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	holder, err := NewHolder(path, nil)
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	if len(holder.Current().Projects) != 2 {
		t.Fatalf("expected two projects, got %+v", holder.Current().Projects)
	}

	if err := os.WriteFile(path, []byte("projects: [unterminated"), 0o644); err != nil {
		t.Fatalf("write broken catalog: %v", err)
	}
	if err := holder.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if len(holder.Current().Projects) != 2 {
		t.Fatal("expected previous catalog to stay active")
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(loaded.Projects) != 0 || len(loaded.PropertyTypes) != 0 {
		t.Fatalf("expected empty catalog, got %+v", loaded)
	}
}
