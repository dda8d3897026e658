package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

const waitFor = 2 * time.Second

func consolePacket(text string) packet.Packet {
	return packet.Packet{DeviceID: 0x10, CommandID: 0x03, Payload: []byte(text)}
}

func newArmed(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d := New(command.For(command.KindMini), opts...)
	d.Arm()
	t.Cleanup(d.Close)
	return d
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func TestFanOutInRegistrationOrder(t *testing.T) {
	d := newArmed(t)
	got := make(chan string, 4)

	for _, tag := range []string{"first", "second"} {
		if _, err := d.Register("send_string_to_console", func(ev Event) {
			got <- tag + ":" + ev.Value().(string)
		}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	if !d.Dispatch(consolePacket("hi\x00")) {
		t.Fatal("Dispatch() = false, want queued")
	}
	if v := recv(t, got); v != "first:hi" {
		t.Errorf("first delivery = %q, want first:hi", v)
	}
	if v := recv(t, got); v != "second:hi" {
		t.Errorf("second delivery = %q, want second:hi", v)
	}
}

func TestEventsKeepArrivalOrder(t *testing.T) {
	d := newArmed(t)
	got := make(chan string, 10)
	if _, err := d.Register("send_string_to_console", func(ev Event) { got <- ev.Value().(string) }); err != nil {
		t.Fatal(err)
	}

	want := []string{"a", "b", "c", "d", "e"}
	for _, s := range want {
		d.Dispatch(consolePacket(s))
	}
	for _, s := range want {
		if v := recv(t, got); v != s {
			t.Fatalf("delivery = %q, want %q", v, s)
		}
	}
}

func TestCollisionArguments(t *testing.T) {
	d := newArmed(t)
	got := make(chan Event, 1)
	if _, err := d.Register("collision_detected", func(ev Event) { got <- ev }); err != nil {
		t.Fatal(err)
	}

	payload := []byte{0x10, 0x00, 0, 0, 0, 0, 0x01, 0, 0, 0, 0, 0, 0, 0x05, 0, 0, 0, 0}
	d.Dispatch(packet.Packet{DeviceID: 0x18, CommandID: 0x12, Payload: payload})

	select {
	case ev := <-got:
		c, ok := ev.Value().(command.CollisionDetected)
		if !ok {
			t.Fatalf("Value() = %T, want CollisionDetected", ev.Value())
		}
		if c.AccelerationX != 1 || !c.XAxis || c.Speed != 5 {
			t.Errorf("collision = %+v", c)
		}
		if ev.Name != "collision_detected" || ev.Kind != command.KindMini {
			t.Errorf("event = %s/%s", ev.Kind, ev.Name)
		}
	case <-time.After(waitFor):
		t.Fatal("timed out")
	}
}

func TestZeroArityNotification(t *testing.T) {
	d := newArmed(t)
	got := make(chan int, 1)
	if _, err := d.Register("will_sleep", func(ev Event) { got <- len(ev.Args) }); err != nil {
		t.Fatal(err)
	}
	d.Dispatch(packet.Packet{DeviceID: 0x13, CommandID: 25})

	select {
	case n := <-got:
		if n != 0 {
			t.Errorf("len(Args) = %d, want 0", n)
		}
	case <-time.After(waitFor):
		t.Fatal("timed out")
	}
}

func TestUnknownNotificationIsDropped(t *testing.T) {
	d := newArmed(t)
	if d.Dispatch(packet.Packet{DeviceID: 0x42, CommandID: 0x42}) {
		t.Error("Dispatch() of unknown notification = true")
	}
	if s := d.Stats(); s.Unknown != 1 {
		t.Errorf("Stats().Unknown = %d, want 1", s.Unknown)
	}
}

func TestNotificationFromOtherProcessorIsDropped(t *testing.T) {
	d := New(command.For(command.KindRVR))
	d.Arm()
	t.Cleanup(d.Close)

	got := make(chan byte, 2)
	if _, err := d.Register("collision_detected", func(ev Event) { got <- ev.SourceID }); err != nil {
		t.Fatal(err)
	}

	collision := func(source byte) packet.Packet {
		return packet.Packet{
			Flags:    packet.FlagHasSourceID,
			SourceID: source,
			DeviceID: 0x18, CommandID: 0x12,
			Payload: make([]byte, 18),
		}
	}
	if d.Dispatch(collision(1)) {
		t.Error("Dispatch() from the Nordic processor = true, want dropped")
	}
	if s := d.Stats(); s.Unknown != 1 {
		t.Errorf("Stats().Unknown = %d, want 1", s.Unknown)
	}
	if !d.Dispatch(collision(2)) {
		t.Fatal("Dispatch() from the ST processor = false, want queued")
	}
	select {
	case src := <-got:
		if src != 2 {
			t.Errorf("SourceID = %d, want 2", src)
		}
	case <-time.After(waitFor):
		t.Fatal("timed out")
	}

	unsourced := collision(0)
	unsourced.Flags = 0
	if !d.Dispatch(unsourced) {
		t.Error("Dispatch() without a source id = false, want queued")
	}
}

func TestRegisterValidation(t *testing.T) {
	d := newArmed(t)
	if _, err := d.Register("motor_stall", func(Event) {}); !errors.Is(err, command.ErrUnknownNotification) {
		t.Errorf("Register(motor_stall) on mini err = %v, want ErrUnknownNotification", err)
	}
	if _, err := d.Register("will_sleep", nil); !errors.Is(err, ErrNilListener) {
		t.Errorf("Register(nil) err = %v, want ErrNilListener", err)
	}
}

func TestUnregister(t *testing.T) {
	d := newArmed(t)
	got := make(chan string, 4)

	first, _ := d.Register("send_string_to_console", func(Event) { got <- "first" })
	if _, err := d.Register("send_string_to_console", func(Event) { got <- "second" }); err != nil {
		t.Fatal(err)
	}

	if !d.Unregister("send_string_to_console", first) {
		t.Fatal("Unregister() = false")
	}
	if d.Unregister("send_string_to_console", first) {
		t.Error("second Unregister() = true")
	}
	if n := d.Listeners("send_string_to_console"); n != 1 {
		t.Errorf("Listeners() = %d, want 1", n)
	}

	d.Dispatch(consolePacket("x"))
	if v := recv(t, got); v != "second" {
		t.Errorf("delivery = %q, want second", v)
	}
}

func TestDisarmedRegistrationsAreInert(t *testing.T) {
	d := newArmed(t)
	got := make(chan string, 2)
	if _, err := d.Register("send_string_to_console", func(ev Event) { got <- ev.Value().(string) }); err != nil {
		t.Fatal(err)
	}

	d.Disarm()
	if d.Dispatch(consolePacket("lost")) {
		t.Error("Dispatch() while disarmed = true")
	}
	if d.Listeners("send_string_to_console") != 1 {
		t.Error("registration should persist while disarmed")
	}

	d.Arm()
	d.Dispatch(consolePacket("back"))
	if v := recv(t, got); v != "back" {
		t.Errorf("delivery = %q, want back", v)
	}
	if s := d.Stats(); s.Inert != 1 {
		t.Errorf("Stats().Inert = %d, want 1", s.Inert)
	}
}

func TestSlowListenerDoesNotBlockDispatch(t *testing.T) {
	d := newArmed(t, WithQueueSize(1))
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	if _, err := d.Register("send_string_to_console", func(Event) {
		started <- struct{}{}
		<-release
	}); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(consolePacket("1"))
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("listener never started")
	}

	if !d.Dispatch(consolePacket("2")) {
		t.Error("second Dispatch() should fit in the queue")
	}
	if d.Dispatch(consolePacket("3")) {
		t.Error("third Dispatch() should be dropped")
	}
	if s := d.Stats(); s.Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", s.Dropped)
	}
}

func TestListenerPanicIsRecovered(t *testing.T) {
	d := newArmed(t)
	got := make(chan string, 1)
	if _, err := d.Register("send_string_to_console", func(Event) { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Register("send_string_to_console", func(Event) { got <- "survived" }); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(consolePacket("x"))
	if v := recv(t, got); v != "survived" {
		t.Errorf("delivery = %q", v)
	}
	if s := d.Stats(); s.Panics != 1 {
		t.Errorf("Stats().Panics = %d, want 1", s.Panics)
	}
}

func TestDecodeErrorIsCounted(t *testing.T) {
	d := newArmed(t)
	if _, err := d.Register("collision_detected", func(Event) {}); err != nil {
		t.Fatal(err)
	}
	if d.Dispatch(packet.Packet{DeviceID: 0x18, CommandID: 0x12, Payload: []byte{1, 2}}) {
		t.Error("Dispatch() of short payload = true")
	}
	if s := d.Stats(); s.DecodeErrors != 1 {
		t.Errorf("Stats().DecodeErrors = %d, want 1", s.DecodeErrors)
	}
}
