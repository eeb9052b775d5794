package brand

import "time"

// ProgressItem tracks the latest value and finalization state of one DNA
// field. At most one item exists per field; updates replace, never append.
type ProgressItem struct {
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Finalized bool      `json:"finalized"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store holds one session's brand state: the DNA record, per-field progress,
// and the suggestion canvas. All access happens on the session coordinator's
// event loop, so the store itself carries no locking.
type Store struct {
	dna      DNA
	progress map[string]ProgressItem
	canvas   CanvasState
	now      func() time.Time
}

// NewStore creates an empty per-session store. A nil clock defaults to time.Now.
func NewStore(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		progress: make(map[string]ProgressItem),
		canvas:   CanvasState{Mode: CanvasNone},
		now:      clock,
	}
}

// DNA returns a full snapshot of the current brand identity.
func (s *Store) DNA() DNA {
	return s.dna.clone()
}

// ApplyPatch merges the present fields of the patch into the DNA and returns
// the complete resulting snapshot plus the field the update is attributed to.
// Absent fields are left untouched; re-applying an identical patch yields an
// identical snapshot and the same attributed field.
func (s *Store) ApplyPatch(p Patch) (DNA, string) {
	if p.Name != nil {
		s.dna.Name = *p.Name
		s.trackProgress(FieldName, *p.Name)
	}
	if p.Mission != nil {
		s.dna.Mission = *p.Mission
		s.trackProgress(FieldMission, *p.Mission)
	}
	if p.Colors != nil {
		s.dna.Colors = append([]string(nil), p.Colors...)
		s.trackProgress(FieldColors, joinColors(p.Colors))
	}
	if p.Font != nil {
		s.dna.Typography = []string{*p.Font}
		s.trackProgress(FieldFont, *p.Font)
	}
	if p.Voice != nil {
		s.dna.Voice = *p.Voice
		s.trackProgress(FieldVoice, *p.Voice)
	}
	if p.LogoURL != nil {
		s.dna.LogoURL = *p.LogoURL
	}
	return s.dna.clone(), p.UpdatedField()
}

func joinColors(colors []string) string {
	out := ""
	for i, c := range colors {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// trackProgress records the latest value for a field, preserving any existing
// finalized flag. Finalization is only ever explicit via Finalize.
func (s *Store) trackProgress(field, value string) ProgressItem {
	item, ok := s.progress[field]
	if !ok {
		item = ProgressItem{Field: field}
	}
	item.Value = value
	item.UpdatedAt = s.now()
	s.progress[field] = item
	return item
}

// Progress returns progress items in tracked-field order, skipping fields
// that have never been touched.
func (s *Store) Progress() []ProgressItem {
	out := make([]ProgressItem, 0, len(s.progress))
	for _, field := range TrackedFields {
		if item, ok := s.progress[field]; ok {
			out = append(out, item)
		}
	}
	return out
}

// ProgressFor returns the progress item for one field, if it exists.
func (s *Store) ProgressFor(field string) (ProgressItem, bool) {
	item, ok := s.progress[field]
	return item, ok
}

// Finalize marks a field's progress item as finalized. Returns false when the
// field is unknown or has no recorded value yet.
func (s *Store) Finalize(field string) (ProgressItem, bool) {
	item, ok := s.progress[field]
	if !ok {
		return ProgressItem{}, false
	}
	item.Finalized = true
	item.UpdatedAt = s.now()
	s.progress[field] = item
	return item, true
}

// Canvas returns a snapshot of the current suggestion canvas.
func (s *Store) Canvas() CanvasState {
	return s.canvas.clone()
}

// ShowFonts replaces the canvas wholesale with a font display.
func (s *Store) ShowFonts(fonts []FontSuggestion) {
	s.canvas = CanvasState{
		Mode:  CanvasFonts,
		Fonts: append([]FontSuggestion(nil), fonts...),
	}
}

// ShowPalettes replaces the canvas wholesale with a color display.
func (s *Store) ShowPalettes(palettes []Palette) {
	s.canvas = CanvasState{
		Mode:     CanvasColors,
		Palettes: append([]Palette(nil), palettes...),
	}
}

// ClearCanvas resets the canvas to its empty state.
func (s *Store) ClearCanvas() {
	s.canvas = CanvasState{Mode: CanvasNone}
}
