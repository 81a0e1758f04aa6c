package utils

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// strips spaces, title-cases, removes trailing period; applied to
// user-entered proposal titles before they hit the database
func CleanupString(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = cases.Title(language.English).String(s)
	s = strings.TrimSuffix(s, ".")
	return s
}
