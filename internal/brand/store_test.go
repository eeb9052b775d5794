package brand_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/brandloom-ai/brandloom/internal/brand"
)

func strPtr(s string) *string { return &s }

func TestApplyPatchSubsetNeverClears(t *testing.T) {
	store := brand.NewStore(nil)

	store.ApplyPatch(brand.Patch{
		Name:   strPtr("Loomcraft"),
		Colors: []string{"#112233", "#445566"},
	})

	// A later patch touching only mission must leave name and colors intact.
	dna, field := store.ApplyPatch(brand.Patch{Mission: strPtr("Weave bold stories")})
	if field != "mission" {
		t.Fatalf("expected updatedField mission, got %q", field)
	}
	if dna.Name != "Loomcraft" {
		t.Fatalf("name cleared by unrelated patch: %q", dna.Name)
	}
	if !reflect.DeepEqual(dna.Colors, []string{"#112233", "#445566"}) {
		t.Fatalf("colors cleared by unrelated patch: %v", dna.Colors)
	}
}

func TestApplyPatchIdempotent(t *testing.T) {
	store := brand.NewStore(nil)
	patch := brand.Patch{Name: strPtr("Loomcraft"), Font: strPtr("Inter")}

	first, field1 := store.ApplyPatch(patch)
	second, field2 := store.ApplyPatch(patch)

	if field1 != field2 {
		t.Fatalf("updatedField changed on re-apply: %q vs %q", field1, field2)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshot changed on re-apply:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestUpdatedFieldPriority(t *testing.T) {
	store := brand.NewStore(nil)

	_, field := store.ApplyPatch(brand.Patch{
		Mission: strPtr("m"),
		Colors:  []string{"#000000"},
		Voice:   strPtr("Playful"),
	})
	if field != "mission" {
		t.Fatalf("expected mission to win priority, got %q", field)
	}

	_, field = store.ApplyPatch(brand.Patch{
		Colors: []string{"#FFFFFF"},
		Font:   strPtr("Lora"),
	})
	if field != "colors" {
		t.Fatalf("expected colors to win priority over font, got %q", field)
	}
}

func TestSnapshotAlwaysFullyDefined(t *testing.T) {
	store := brand.NewStore(nil)
	dna := store.DNA()

	if dna.Voice != brand.DefaultVoice {
		t.Fatalf("expected default voice %q, got %q", brand.DefaultVoice, dna.Voice)
	}
	if dna.Colors == nil || dna.Typography == nil {
		t.Fatal("snapshot slices must never be nil")
	}
}

func TestProgressTracking(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := brand.NewStore(func() time.Time { return clock })

	store.ApplyPatch(brand.Patch{Voice: strPtr("Bold")})
	store.ApplyPatch(brand.Patch{Name: strPtr("Loomcraft")})

	items := store.Progress()
	if len(items) != 2 {
		t.Fatalf("expected 2 progress items, got %d", len(items))
	}
	// Tracked-field order: name before voice regardless of update order.
	if items[0].Field != "name" || items[1].Field != "voice" {
		t.Fatalf("unexpected progress order: %q, %q", items[0].Field, items[1].Field)
	}
	if items[0].Finalized || items[1].Finalized {
		t.Fatal("progress must never auto-finalize")
	}

	// Updates replace, never append, and keep the finalized flag.
	if _, ok := store.Finalize("voice"); !ok {
		t.Fatal("finalize voice failed")
	}
	store.ApplyPatch(brand.Patch{Voice: strPtr("Bolder")})
	item, _ := store.ProgressFor("voice")
	if !item.Finalized {
		t.Fatal("value update cleared the finalized flag")
	}
	if item.Value != "Bolder" {
		t.Fatalf("expected updated value, got %q", item.Value)
	}
	if len(store.Progress()) != 2 {
		t.Fatalf("update appended instead of replacing: %d items", len(store.Progress()))
	}
}

func TestFinalizeUnknownField(t *testing.T) {
	store := brand.NewStore(nil)
	if _, ok := store.Finalize("colors"); ok {
		t.Fatal("finalize must fail for a field with no recorded value")
	}
}

func TestCanvasWholesaleReplace(t *testing.T) {
	store := brand.NewStore(nil)

	store.ShowFonts([]brand.FontSuggestion{
		{Name: "Inter", Category: "sans-serif", Reasoning: "clean"},
		{Name: "Lora", Category: "serif", Reasoning: "warm"},
	})
	canvas := store.Canvas()
	if canvas.Mode != brand.CanvasFonts || len(canvas.Fonts) != 2 {
		t.Fatalf("unexpected canvas after ShowFonts: %+v", canvas)
	}

	store.ShowPalettes([]brand.Palette{
		{Name: "Sunrise", Colors: []string{"#FF0000", "#FFA500"}, Vibe: "energetic"},
	})
	canvas = store.Canvas()
	if canvas.Mode != brand.CanvasColors {
		t.Fatalf("expected colors mode, got %q", canvas.Mode)
	}
	if len(canvas.Fonts) != 0 {
		t.Fatal("fonts must be cleared when palettes replace the canvas")
	}

	p, ok := canvas.PaletteByName("Sunrise")
	if !ok {
		t.Fatal("expected Sunrise palette to be found")
	}
	if !reflect.DeepEqual(p.Colors, []string{"#FF0000", "#FFA500"}) {
		t.Fatalf("unexpected palette colors: %v", p.Colors)
	}
	if _, ok := canvas.PaletteByName("Dusk"); ok {
		t.Fatal("unknown palette lookup must fail")
	}

	store.ClearCanvas()
	if store.Canvas().Mode != brand.CanvasNone {
		t.Fatal("expected empty canvas after clear")
	}
}
