// Package color provides avatar color validation and palette assignment.
package color

import (
	"errors"
	"html"
	"math/rand"
	"regexp"
	"strings"
)

// hexColorPattern matches valid hex color codes in format #RRGGBB (case insensitive).
var hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ErrInvalidHexFormat is returned for colors not in #RRGGBB format.
var ErrInvalidHexFormat = errors.New("invalid hex color format, expected #RRGGBB")

// Palette is the fixed set of avatar colors assigned to participants who do
// not pick their own.
var Palette = []string{
	"#FF5733", "#33FF57", "#3357FF", "#FF33F5", "#F5FF33",
	"#33FFF5", "#F533FF", "#FF8C33", "#8CFF33", "#338CFF",
}

// IsValidHex validates that a color string is in valid #RRGGBB format.
func IsValidHex(color string) bool {
	return hexColorPattern.MatchString(color)
}

// Sanitize sanitizes a color string to prevent script injection.
// Returns the original color if valid, or empty string if invalid.
func Sanitize(color string) string {
	sanitized := html.EscapeString(strings.TrimSpace(color))

	if !IsValidHex(sanitized) {
		return ""
	}

	return sanitized
}

// Random returns a random color from the palette. Uniqueness within a
// session is not guaranteed.
func Random() string {
	return Palette[rand.Intn(len(Palette))]
}
