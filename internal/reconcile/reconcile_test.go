package reconcile

import (
	"testing"

	"github.com/dropDatabas3/flocksync/internal/adapter"
)

func person(id, campusID string) adapter.Entity {
	e := adapter.Entity{ID: id, Type: "Person"}
	if campusID != "" {
		e.Relationships = map[string]adapter.RelRef{
			"primary_campus": {Data: &adapter.RelData{ID: campusID, Type: "Campus"}},
		}
	}
	return e
}

var rels = map[string]string{"primary_campus": "campus"}

func TestMissingLinks_DedupWithinBatch(t *testing.T) {
	// 2 personas referencian el campus "46838", 1 referencia otro distinto:
	// exactamente 2 missing links, external ids únicos.
	batch := []adapter.Entity{
		person("p1", "46838"),
		person("p2", "46838"),
		person("p3", "99001"),
	}
	got := MissingLinks("pco", batch, rels, nil)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].ExternalID != "46838" || got[1].ExternalID != "99001" {
		t.Fatalf("orden de primera aparición roto: %+v", got)
	}
	for _, ml := range got {
		if ml.EntityType != "campus" {
			t.Fatalf("entityType = %q, want \"campus\"", ml.EntityType)
		}
		if ml.Adapter != "pco" {
			t.Fatalf("adapter = %q", ml.Adapter)
		}
	}
}

func TestMissingLinks_SkipsExistingIndex(t *testing.T) {
	batch := []adapter.Entity{person("p1", "46838"), person("p2", "77")}
	existing := map[string]struct{}{"46838": {}}
	got := MissingLinks("pco", batch, rels, existing)
	if len(got) != 1 || got[0].ExternalID != "77" {
		t.Fatalf("got %+v", got)
	}
}

func TestMissingLinks_IgnoresNullAndUnannotated(t *testing.T) {
	batch := []adapter.Entity{
		person("p1", ""), // sin relación
		{ID: "p2", Relationships: map[string]adapter.RelRef{
			"primary_campus": {Data: nil}, // data null
			"household":      {Data: &adapter.RelData{ID: "h1"}}, // no anotada
		}},
	}
	if got := MissingLinks("pco", batch, rels, nil); len(got) != 0 {
		t.Fatalf("got %+v, want vacío", got)
	}
}

func TestMissingLinks_EmptyManifest(t *testing.T) {
	if got := MissingLinks("pco", []adapter.Entity{person("p1", "1")}, nil, nil); got != nil {
		t.Fatalf("sin manifest no hay descubrimiento: %+v", got)
	}
}
