package command

import (
	"fmt"
	"sort"
)

type key struct {
	deviceID  byte
	commandID byte
}

// Table is the immutable command and notification catalogue for one kind.
type Table struct {
	kind          Kind
	commands      map[string]*Descriptor
	commandIDs    map[key]*Descriptor
	notifications map[string]*Notification
	notifyIDs     map[key]*Notification
	targets       map[byte]byte
}

// Kind returns the kind this table describes.
func (t *Table) Kind() Kind { return t.kind }

// Command looks a command up by name.
func (t *Table) Command(name string) (*Descriptor, bool) {
	d, ok := t.commands[name]
	return d, ok
}

// CommandByID looks a command up by device and command id.
func (t *Table) CommandByID(deviceID, commandID byte) (*Descriptor, bool) {
	d, ok := t.commandIDs[key{deviceID, commandID}]
	return d, ok
}

// Commands returns every command ordered by device id then command id.
func (t *Table) Commands() []*Descriptor {
	out := make([]*Descriptor, 0, len(t.commands))
	for _, d := range t.commands {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID() != out[j].DeviceID() {
			return out[i].DeviceID() < out[j].DeviceID()
		}
		return out[i].CommandID < out[j].CommandID
	})
	return out
}

// Notification looks a notification up by name.
func (t *Table) Notification(name string) (*Notification, bool) {
	n, ok := t.notifications[name]
	return n, ok
}

// NotificationByID looks a notification up by device and command id.
func (t *Table) NotificationByID(deviceID, commandID byte) (*Notification, bool) {
	n, ok := t.notifyIDs[key{deviceID, commandID}]
	return n, ok
}

// Notifications returns every notification ordered by device id then
// command id.
func (t *Table) Notifications() []*Notification {
	out := make([]*Notification, 0, len(t.notifications))
	for _, n := range t.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceID() != out[j].DeviceID() {
			return out[i].DeviceID() < out[j].DeviceID()
		}
		return out[i].CommandID < out[j].CommandID
	})
	return out
}

// Target returns the processor id commands for deviceID must be addressed
// to. Only toys with more than one processor (RVR) have targets.
func (t *Table) Target(deviceID byte) (byte, bool) {
	id, ok := t.targets[deviceID]
	return id, ok
}

// tables is built once in init and only read afterwards.
var tables map[Kind]*Table

// For returns the table for kind, or nil for KindUnknown.
func For(kind Kind) *Table {
	return tables[kind]
}

// RVR processors.
const (
	rvrNordic byte = 1
	rvrST     byte = 2
)

func init() {
	v2Base := func() []*Descriptor {
		return concat(apiAndShellCommands, powerCommands, driveCommands, sensorCommands, firmwareCommands)
	}
	v2Notify := func(collision DecodeFunc) []*Notification {
		return concatN(apiAndShellNotifications(), powerNotifications(), sensorNotifications(collision))
	}
	animatronic := func(collision DecodeFunc) []*Notification {
		return concatN(v2Notify(collision), animatronicNotifications())
	}
	withDrive := func(collision DecodeFunc) []*Notification {
		return concatN(v2Notify(collision), driveNotifications())
	}

	tables = map[Kind]*Table{
		KindSphero:   build(KindSphero, concat(coreCommands, spheroCommands), asyncNotifications(), nil),
		KindMini:     build(KindMini, v2Base(), v2Notify(decodeCollisionV2), nil),
		KindBOLT:     build(KindBOLT, v2Base(), withDrive(decodeCollisionV2), nil),
		KindBOLTPlus: build(KindBOLTPlus, v2Base(), withDrive(decodeCollisionBOLTPlus), nil),
		KindR2D2:     build(KindR2D2, concat(v2Base(), animatronicCommands), animatronic(decodeCollisionV2), nil),
		KindR2Q5:     build(KindR2Q5, concat(v2Base(), animatronicCommands), animatronic(decodeCollisionV2), nil),
		KindBB9E:     build(KindBB9E, concat(v2Base(), animatronicCommands), animatronic(decodeCollisionV2), nil),
		KindRVR: build(KindRVR, v2Base(), withDrive(decodeCollisionV2), map[byte]byte{
			APIAndShell.DeviceID: rvrNordic,
			Power.DeviceID:       rvrNordic,
			Firmware.DeviceID:    rvrNordic,
			Drive.DeviceID:       rvrST,
			Sensor.DeviceID:      rvrST,
		}),
	}
}

func build(kind Kind, cmds []*Descriptor, notes []*Notification, targets map[byte]byte) *Table {
	t := &Table{
		kind:          kind,
		commands:      make(map[string]*Descriptor, len(cmds)),
		commandIDs:    make(map[key]*Descriptor, len(cmds)),
		notifications: make(map[string]*Notification, len(notes)),
		notifyIDs:     make(map[key]*Notification, len(notes)),
		targets:       targets,
	}
	for _, d := range cmds {
		k := key{d.DeviceID(), d.CommandID}
		if _, dup := t.commands[d.Name]; dup {
			panic(fmt.Sprintf("command: %s: duplicate command name %q", kind, d.Name))
		}
		if _, dup := t.commandIDs[k]; dup {
			panic(fmt.Sprintf("command: %s: duplicate command id %02x:%02x", kind, k.deviceID, k.commandID))
		}
		t.commands[d.Name] = d
		t.commandIDs[k] = d
	}
	for _, n := range notes {
		if id, ok := targets[n.DeviceID()]; ok {
			scoped := *n
			scoped.Target = id
			n = &scoped
		}
		k := key{n.DeviceID(), n.CommandID}
		if _, dup := t.notifications[n.Name]; dup {
			panic(fmt.Sprintf("command: %s: duplicate notification name %q", kind, n.Name))
		}
		if _, dup := t.notifyIDs[k]; dup {
			panic(fmt.Sprintf("command: %s: duplicate notification id %02x:%02x", kind, k.deviceID, k.commandID))
		}
		t.notifications[n.Name] = n
		t.notifyIDs[k] = n
	}
	return t
}

func concat(lists ...[]*Descriptor) []*Descriptor {
	var out []*Descriptor
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func concatN(lists ...[]*Notification) []*Notification {
	var out []*Notification
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
