package brand

// DefaultVoice is used until the conversation establishes a brand voice.
const DefaultVoice = "Professional"

// DNA is the mutable brand identity record built up over a session.
// Snapshots handed to consumers are always fully defined: string fields may
// be empty but slices are never nil and Voice always has a value.
type DNA struct {
	Name       string   `json:"name"`
	Mission    string   `json:"mission"`
	Voice      string   `json:"voice"`
	Colors     []string `json:"colors"`
	Typography []string `json:"typography"`
	LogoURL    string   `json:"logoUrl,omitempty"`
}

// clone returns a deep copy with defaults filled in.
func (d DNA) clone() DNA {
	out := d
	if out.Voice == "" {
		out.Voice = DefaultVoice
	}
	out.Colors = append([]string(nil), d.Colors...)
	if out.Colors == nil {
		out.Colors = []string{}
	}
	out.Typography = append([]string(nil), d.Typography...)
	if out.Typography == nil {
		out.Typography = []string{}
	}
	return out
}

// Patch carries a partial DNA update. Nil fields are absent and leave the
// existing value untouched — a patch never implicitly clears anything.
type Patch struct {
	Name    *string
	Mission *string
	Colors  []string // nil = absent; empty slice = explicit clear
	Font    *string  // becomes the primary typography entry
	Voice   *string
	LogoURL *string
}

// UpdatedField reports which single field a patch is attributed to, using
// first-match priority: name, mission, colors, font, voice. Empty when the
// patch carries none of the tracked fields.
func (p Patch) UpdatedField() string {
	switch {
	case p.Name != nil:
		return FieldName
	case p.Mission != nil:
		return FieldMission
	case p.Colors != nil:
		return FieldColors
	case p.Font != nil:
		return FieldFont
	case p.Voice != nil:
		return FieldVoice
	}
	return ""
}

// Tracked DNA field names, in progress display order.
const (
	FieldName    = "name"
	FieldMission = "mission"
	FieldFont    = "font"
	FieldColors  = "colors"
	FieldVoice   = "voice"
)

// TrackedFields lists the fields that carry progress items.
var TrackedFields = []string{FieldName, FieldMission, FieldFont, FieldColors, FieldVoice}
