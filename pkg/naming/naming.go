// Package naming derives the run identity that names both output artifacts.
package naming

import (
	"os"
	"os/user"
	"strings"
	"time"
)

// StampLayout formats the run timestamp at minute resolution (MMDDYY_HHMM).
const StampLayout = "010206_1504"

// DefaultOverrides maps operator identities whose leading characters collide
// with another operator to a fixed token. Keys are uppercase.
var DefaultOverrides = map[string]string{
	"JCHO": "KC",
}

// RunIdentity names the outputs of one run.
type RunIdentity struct {
	Operator string
	Initials string
	Time     time.Time
	Stem     string
}

// StructuredName is the name of the structured output collection.
func (r RunIdentity) StructuredName() string {
	return r.Stem
}

// InterchangeName is the file name of the interchange output.
func (r RunIdentity) InterchangeName(ext string) string {
	return r.Stem + "." + strings.TrimPrefix(ext, ".")
}

// Namer builds run identities. The zero value is not usable; call New.
type Namer struct {
	Prefix    string
	Overrides map[string]string
	Width     int
	Pad       rune
}

// New returns a namer with the default prefix, width and override table.
func New() Namer {
	return Namer{
		Prefix:    "Parcels",
		Overrides: DefaultOverrides,
		Width:     2,
		Pad:       'X',
	}
}

// Initials normalizes an operator identity to a fixed-width token:
// uppercase, DOMAIN\ prefix stripped, override table applied, then truncated
// or right-padded to Width.
func (n Namer) Initials(operator string) string {
	editor := strings.ToUpper(strings.TrimSpace(operator))
	if idx := strings.LastIndex(editor, `\`); idx >= 0 {
		editor = editor[idx+1:]
	}

	if token, ok := n.Overrides[editor]; ok {
		return token
	}

	runes := []rune(editor)
	if len(runes) > n.Width {
		runes = runes[:n.Width]
	}
	for len(runes) < n.Width {
		runes = append(runes, n.Pad)
	}
	return string(runes)
}

// Identity builds the run identity for an operator at a point in time.
func (n Namer) Identity(operator string, now time.Time) RunIdentity {
	initials := n.Initials(operator)
	return RunIdentity{
		Operator: operator,
		Initials: initials,
		Time:     now.Truncate(time.Minute),
		Stem:     n.Prefix + "_" + initials + "_" + now.Format(StampLayout),
	}
}

// MakeRunIdentity builds a run identity with the default namer.
func MakeRunIdentity(operator string, now time.Time) RunIdentity {
	return New().Identity(operator, now)
}

// CurrentOperator returns the login of the invoking user.
// PARCELFIND_OPERATOR takes precedence over the login environment.
func CurrentOperator() string {
	for _, key := range []string{"PARCELFIND_OPERATOR", "LOGNAME", "USER", "LNAME", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
