package queue

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StageLabel converts an internal stage or status token into a user-facing
// label ("mesh_generation" becomes "Mesh Generation"). A fresh Caser per call
// because Casers are stateful and not safe for concurrent use.
func StageLabel(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	words := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}
