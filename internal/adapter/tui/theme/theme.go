// Package theme holds the colors, symbols and styles of the terminal UI.
// Colors are adaptive so they work on light and dark terminals; lipgloss
// drops them entirely when NO_COLOR is set.
package theme

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	ColorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBgAlt   = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	ColorFgDim   = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
)

// SymbolSet holds the glyphs used across the UI.
type SymbolSet struct {
	Success string
	Error   string
	Tool    string
	Bullet  string
	User    string
	Bot     string
}

var unicodeSymbols = SymbolSet{
	Success: "✓",
	Error:   "✗",
	Tool:    "⚙",
	Bullet:  "•",
	User:    "You",
	Bot:     "Model",
}

var asciiSymbols = SymbolSet{
	Success: "[OK]",
	Error:   "[ERR]",
	Tool:    "[tool]",
	Bullet:  "*",
	User:    "You",
	Bot:     "Model",
}

// Symbols is the active symbol set, chosen by InitSymbols.
var Symbols = unicodeSymbols

// DetectUnicodeSupport reports whether the terminal likely renders Unicode.
// STEELWOOL_ASCII_SYMBOLS=1 forces ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("STEELWOOL_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	// Most modern terminals support Unicode.
	return true
}

// InitSymbols selects the symbol set for the current environment.
func InitSymbols() {
	Symbols = unicodeSymbols
	if !DetectUnicodeSupport() {
		Symbols = asciiSymbols
	}
}

func init() {
	InitSymbols()
}

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// Message role styles.
var (
	UserLabel   = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	BotLabel    = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	ToolLabel   = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	SystemLabel = lipgloss.NewStyle().Foreground(ColorMuted).Bold(true)
	ErrorLabel  = lipgloss.NewStyle().Foreground(ColorError).Bold(true)

	Timestamp = lipgloss.NewStyle().Foreground(ColorFgDim).Faint(true)
)

var (
	StatusBar = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Background(ColorBgAlt).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	InputBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)
)

// MaxContentWidth caps the width of rendered markdown.
const MaxContentWidth = 100

// Clamp returns v clamped to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
