package command

import (
	"fmt"
	"strings"

	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// Kind identifies a toy model. It selects the framing, the command table and
// every kind-specific decode rule.
type Kind int

// Known toy kinds.
const (
	KindUnknown Kind = iota
	KindSphero
	KindMini
	KindBOLT
	KindBOLTPlus
	KindR2D2
	KindR2Q5
	KindBB9E
	KindRVR
)

var kindNames = map[Kind]string{
	KindSphero:   "sphero",
	KindMini:     "mini",
	KindBOLT:     "bolt",
	KindBOLTPlus: "boltplus",
	KindR2D2:     "r2d2",
	KindR2Q5:     "r2q5",
	KindBB9E:     "bb9e",
	KindRVR:      "rvr",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindSphero, KindMini, KindBOLT, KindBOLTPlus, KindR2D2, KindR2Q5, KindBB9E, KindRVR}
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Framing returns the wire framing the kind speaks.
func (k Kind) Framing() packet.Framing {
	if k == KindSphero {
		return packet.FramingV1
	}
	return packet.FramingV2
}

// ParseKind parses a configuration name such as "bolt" or "BOLT+".
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "", "+", "plus").Replace(norm)
	for k, n := range kindNames {
		if n == norm {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if k == KindUnknown {
		return nil, fmt.Errorf("%w: unknown", ErrUnknownKind)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so kinds can be read
// straight from YAML, TOML and JSON.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
