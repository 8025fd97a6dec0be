package mesh

import (
	"fmt"
	"strings"
)

// Architecture selects the Epiphany revision being emulated.
type Architecture uint8

// Supported revisions.
const (
	EpiphanyIII Architecture = iota + 3
	EpiphanyIV
)

func (a Architecture) String() string {
	switch a {
	case EpiphanyIII:
		return "EpiphanyIII"
	case EpiphanyIV:
		return "EpiphanyIV"
	default:
		return fmt.Sprintf("Architecture(%d)", uint8(a))
	}
}

// Valid reports whether a is a known revision.
func (a Architecture) Valid() bool {
	return a == EpiphanyIII || a == EpiphanyIV
}

// ParseArchitecture accepts "EpiphanyIII", "III", "3" and the IV forms,
// case-insensitively.
func ParseArchitecture(s string) (Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "epiphanyiii", "iii", "3", "e16":
		return EpiphanyIII, nil
	case "epiphanyiv", "iv", "4", "e64":
		return EpiphanyIV, nil
	}
	return 0, fmt.Errorf("unknown architecture %q", s)
}
