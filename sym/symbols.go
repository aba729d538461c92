// Package sym defines the glyphs tren prints in logs and CLI output.
package sym

const (
	AM = "≡" // configuration
	IX = "⨳" // document intake
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // async jobs, workers, retry budget
	PulseOpen  = "✿" // graceful startup with orphaned job recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	Doc        = "▤" // document content
	Tr         = "⇄" // translation of a chunk
)

// All returns every glyph keyed by its short name.
func All() map[string]string {
	return map[string]string{
		"am":          AM,
		"ix":          IX,
		"pulse":       Pulse,
		"pulse_open":  PulseOpen,
		"pulse_close": PulseClose,
		"db":          DB,
		"doc":         Doc,
		"tr":          Tr,
	}
}
