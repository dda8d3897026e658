package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := NewTopics("spherolink/")

	tests := []struct {
		got  string
		want string
	}{
		{topics.Command("SB-1234"), "spherolink/command/SB-1234"},
		{topics.Ack("SB-1234"), "spherolink/ack/SB-1234"},
		{topics.Event("SB-1234", "collision_detected"), "spherolink/event/SB-1234/collision_detected"},
		{topics.State("SB-1234"), "spherolink/state/SB-1234"},
		{topics.Health(), "spherolink/health"},
		{topics.AllCommands(), "spherolink/command/+"},
		{topics.AllEvents(), "spherolink/event/#"},
		{NewTopics("").Health(), "spherolink/health"},
		{NewTopics("lab/toys").Command("x"), "lab/toys/command/x"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestToyFromCommand(t *testing.T) {
	topics := NewTopics("spherolink")
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"spherolink/command/SB-1234", "SB-1234", true},
		{"spherolink/command/", "", false},
		{"spherolink/command/a/b", "", false},
		{"spherolink/ack/SB-1234", "", false},
		{"other/command/SB-1234", "", false},
	}
	for _, tt := range tests {
		got, ok := topics.ToyFromCommand(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ToyFromCommand(%q) = %q, %v, want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRoutineFromRun(t *testing.T) {
	topics := NewTopics("spherolink")
	if got := topics.RoutineRun("wake"); got != "spherolink/routine/wake/run" {
		t.Errorf("RoutineRun() = %q", got)
	}
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"spherolink/routine/wake/run", "wake", true},
		{"spherolink/routine//run", "", false},
		{"spherolink/routine/a/b/run", "", false},
		{"spherolink/routine/wake/result", "", false},
		{"spherolink/command/wake", "", false},
	}
	for _, tt := range tests {
		got, ok := topics.RoutineFromRun(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("RoutineFromRun(%q) = %q, %v, want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}
