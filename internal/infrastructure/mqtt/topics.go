package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "spherolink"

// Topics builds the spherolink topic hierarchy under a prefix:
//
//	{prefix}/command/{toy}                 commands in
//	{prefix}/ack/{toy}                     command results out
//	{prefix}/event/{toy}/{notification}    notification events out
//	{prefix}/state/{toy}                   retained connection state
//	{prefix}/health                        retained service health, LWT
//	{prefix}/routine/{name}/run            routine run requests in
//	{prefix}/routine/{name}/result         routine run results out
type Topics struct {
	Prefix string
}

// NewTopics returns topic builders for prefix, falling back to
// DefaultTopicPrefix. Trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Command returns the topic a toy's commands arrive on.
//
// Example: spherolink/command/SB-1234
func (t Topics) Command(toy string) string {
	return fmt.Sprintf("%s/command/%s", t.Prefix, toy)
}

// Ack returns the topic command results for a toy are published on.
func (t Topics) Ack(toy string) string {
	return fmt.Sprintf("%s/ack/%s", t.Prefix, toy)
}

// Event returns the topic a toy's notification is published on.
//
// Example: spherolink/event/SB-1234/collision_detected
func (t Topics) Event(toy, notification string) string {
	return fmt.Sprintf("%s/event/%s/%s", t.Prefix, toy, notification)
}

// State returns the retained connection-state topic of a toy.
func (t Topics) State(toy string) string {
	return fmt.Sprintf("%s/state/%s", t.Prefix, toy)
}

// Health returns the retained service health topic. It also carries the
// broker-published Last Will.
func (t Topics) Health() string {
	return t.Prefix + "/health"
}

// AllCommands returns the wildcard subscription for every toy's commands.
func (t Topics) AllCommands() string {
	return t.Prefix + "/command/+"
}

// AllEvents returns the wildcard subscription for every notification event.
func (t Topics) AllEvents() string {
	return t.Prefix + "/event/#"
}

// ToyFromCommand extracts the toy name from a concrete command topic. It
// reports false for topics outside the command hierarchy.
func (t Topics) ToyFromCommand(topic string) (string, bool) {
	toy, ok := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !ok || toy == "" || strings.Contains(toy, "/") {
		return "", false
	}
	return toy, true
}

// RoutineRun returns the topic a routine's run requests arrive on.
func (t Topics) RoutineRun(name string) string {
	return fmt.Sprintf("%s/routine/%s/run", t.Prefix, name)
}

// RoutineResult returns the topic a routine's run results are published on.
func (t Topics) RoutineResult(name string) string {
	return fmt.Sprintf("%s/routine/%s/result", t.Prefix, name)
}

// AllRoutineRuns returns the wildcard subscription for every routine's run
// requests.
func (t Topics) AllRoutineRuns() string {
	return t.Prefix + "/routine/+/run"
}

// RoutineFromRun extracts the routine name from a concrete run topic.
func (t Topics) RoutineFromRun(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/routine/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/run")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
