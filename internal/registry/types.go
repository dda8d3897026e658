package registry

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/protocol/command"
)

const maxNameLength = 64

// Names appear in MQTT topics and URL paths, so they are restricted to a
// conservative character set.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Toy is one known toy.
type Toy struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Kind        command.Kind `json:"kind"`
	Address     string       `json:"address"`
	AutoConnect bool         `json:"auto_connect"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	LastSeenAt  *time.Time   `json:"last_seen_at,omitempty"`
}

// Validate checks the fields an operator supplies.
func (t *Toy) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	t.Address = strings.TrimSpace(t.Address)

	switch {
	case t.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case len(t.Name) > maxNameLength:
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalid, maxNameLength)
	case !namePattern.MatchString(t.Name):
		return fmt.Errorf("%w: name %q may only contain letters, digits, '.', '_' and '-'", ErrInvalid, t.Name)
	case command.For(t.Kind) == nil:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalid, t.Kind)
	case t.Address == "":
		return fmt.Errorf("%w: address is required", ErrInvalid)
	}
	return nil
}

// Entry converts the record into a fleet membership entry.
func (t Toy) Entry() fleet.Entry {
	return fleet.Entry{
		Name:        t.Name,
		Kind:        t.Kind,
		Address:     t.Address,
		AutoConnect: t.AutoConnect,
	}
}

func (t *Toy) clone() *Toy {
	c := *t
	if t.LastSeenAt != nil {
		seen := *t.LastSeenAt
		c.LastSeenAt = &seen
	}
	return &c
}
