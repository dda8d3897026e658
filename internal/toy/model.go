package toy

import (
	"strings"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/transport"
)

// Write is one handshake write.
type Write struct {
	Characteristic string
	Data           []byte
}

// Model is the static description of a toy kind's link.
type Model struct {
	Kind        command.Kind
	DisplayName string

	// NamePrefix must prefix the advertised name when set.
	NamePrefix string
	// FilterPrefix must always prefix the advertised name.
	FilterPrefix string

	// CommandInterval is the minimum gap between consecutive commands.
	CommandInterval time.Duration

	SendChar     string
	ResponseChar string
	Handshake    []Write
}

var (
	v2Handshake = []Write{{transport.CharAntiDoS, transport.AntiDoSV2}}
	v1Handshake = []Write{
		{transport.CharV1AntiDoS, transport.AntiDoSV1},
		{transport.CharV1TXPower, transport.TXPowerV1},
	}
)

func v2Model(kind command.Kind, display, prefix, filter string, interval time.Duration) Model {
	return Model{
		Kind:            kind,
		DisplayName:     display,
		NamePrefix:      prefix,
		FilterPrefix:    filter,
		CommandInterval: interval,
		SendChar:        transport.CharAPIV2,
		ResponseChar:    transport.CharAPIV2,
		Handshake:       v2Handshake,
	}
}

var models = map[command.Kind]Model{
	command.KindSphero: {
		Kind:            command.KindSphero,
		DisplayName:     "SPRK/2.0",
		FilterPrefix:    "Sphero",
		CommandInterval: 60 * time.Millisecond,
		SendChar:        transport.CharV1Command,
		ResponseChar:    transport.CharV1Response,
		Handshake:       v1Handshake,
	},
	command.KindMini:     v2Model(command.KindMini, "Sphero Mini", "SM-", "SM", 120*time.Millisecond),
	command.KindBOLT:     v2Model(command.KindBOLT, "Sphero BOLT", "SB-", "SB", 75*time.Millisecond),
	command.KindBOLTPlus: v2Model(command.KindBOLTPlus, "Sphero BOLT+", "SB-", "SB", 75*time.Millisecond),
	command.KindR2D2:     v2Model(command.KindR2D2, "R2-D2", "D2-", "D2", 120*time.Millisecond),
	command.KindR2Q5:     v2Model(command.KindR2Q5, "R2-Q5", "Q5-", "Q5", 120*time.Millisecond),
	command.KindBB9E:     v2Model(command.KindBB9E, "BB-9E", "GB-", "GB", 120*time.Millisecond),
	command.KindRVR:      v2Model(command.KindRVR, "Sphero RVR", "RV-", "RV", 80*time.Millisecond),
}

// ModelOf returns the model for kind.
func ModelOf(kind command.Kind) (Model, bool) {
	m, ok := models[kind]
	return m, ok
}

// Matches reports whether an advertised name belongs to this model.
func (m Model) Matches(name string) bool {
	if !strings.HasPrefix(name, m.FilterPrefix) {
		return false
	}
	return m.NamePrefix == "" || strings.HasPrefix(name, m.NamePrefix)
}

// Match returns the first of kinds whose model matches name. With no kinds
// every kind is tried in command.Kinds order, so BOLT wins over BOLT+ for
// the "SB-" prefix they share; ask for KindBOLTPlus explicitly to get it.
func Match(name string, kinds ...command.Kind) (command.Kind, bool) {
	if len(kinds) == 0 {
		kinds = command.Kinds()
	}
	for _, k := range kinds {
		if m, ok := models[k]; ok && m.Matches(name) {
			return k, true
		}
	}
	return command.KindUnknown, false
}
