package display

import (
	"encoding/json"
	"os"
)

// CompactEnv set to any non-empty value makes MarshalJSON emit one line
// per document, which suits piping into line-oriented tools
const CompactEnv = "TREN_JSON_COMPACT"

// MarshalJSON marshals v indented for people, or compact when CompactEnv
// is set
func MarshalJSON(v interface{}) ([]byte, error) {
	if os.Getenv(CompactEnv) != "" {
		return json.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
