package toy

import (
	"context"
	"testing"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/transport"
	"github.com/nerrad567/spherolink/internal/transport/sim"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		kinds []command.Kind
		want  command.Kind
		ok    bool
	}{
		{"SB-1234", nil, command.KindBOLT, true},
		{"SB-1234", []command.Kind{command.KindBOLTPlus}, command.KindBOLTPlus, true},
		{"SM-0A1B", nil, command.KindMini, true},
		{"Sphero-RBG", nil, command.KindSphero, true},
		{"D2-55AA", nil, command.KindR2D2, true},
		{"Q5-0001", nil, command.KindR2Q5, true},
		{"GB-7788", nil, command.KindBB9E, true},
		{"RV-ABCD", nil, command.KindRVR, true},
		{"SMX", nil, command.KindUnknown, false}, // filter prefix without name prefix
		{"SM-0A1B", []command.Kind{command.KindBOLT}, command.KindUnknown, false},
		{"Kettle", nil, command.KindUnknown, false},
	}
	for _, tt := range tests {
		got, ok := Match(tt.name, tt.kinds...)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Match(%q, %v) = %v, %v; want %v, %v", tt.name, tt.kinds, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEveryKindHasModel(t *testing.T) {
	for _, k := range command.Kinds() {
		m, ok := ModelOf(k)
		if !ok {
			t.Errorf("ModelOf(%v) missing", k)
			continue
		}
		if m.Kind != k || m.FilterPrefix == "" || m.CommandInterval <= 0 || len(m.Handshake) == 0 {
			t.Errorf("ModelOf(%v) = %+v", k, m)
		}
	}
}

func TestDiscover(t *testing.T) {
	var peripherals []transport.Peripheral
	for _, p := range []struct {
		kind       command.Kind
		name, addr string
	}{
		{command.KindBOLT, "SB-1111", "b1"},
		{command.KindMini, "SM-2222", "m1"},
		{command.KindMini, "Printer", "x1"},
	} {
		toy, err := sim.New(p.kind, p.name, p.addr)
		if err != nil {
			t.Fatal(err)
		}
		peripherals = append(peripherals, toy)
	}
	a := transport.NewPipeAdapter(peripherals...)
	ctx := context.Background()

	all, err := Discover(ctx, a, Filter{})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(all) != 2 || all[0].Kind != command.KindBOLT || all[1].Kind != command.KindMini {
		t.Errorf("Discover() = %+v", all)
	}

	minis, err := Discover(ctx, a, Filter{Kinds: []command.Kind{command.KindMini}})
	if err != nil || len(minis) != 1 || minis[0].Address != "m1" {
		t.Errorf("Discover(mini) = %+v, %v", minis, err)
	}

	one, err := FindOne(ctx, a, Filter{Names: []string{"SB-1111"}})
	if err != nil || one.Address != "b1" {
		t.Errorf("FindOne() = %+v, %v", one, err)
	}
	if _, err := FindOne(ctx, a, Filter{Names: []string{"SB-9999"}}); err != ErrNotFound {
		t.Errorf("FindOne(missing) error = %v, want ErrNotFound", err)
	}
}
