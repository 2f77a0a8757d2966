package game

import (
	"fmt"
	"strings"
)

// TargetType is the kind of entity a status effect is attached to.
type TargetType int

const (
	TargetCharacter TargetType = iota + 1
	TargetNpc
	TargetParty
	TargetLocation
)

var targetTypeNames = map[TargetType]string{
	TargetCharacter: "Character",
	TargetNpc:       "Npc",
	TargetParty:     "Party",
	TargetLocation:  "Location",
}

// TargetTypes lists every valid target type.
func TargetTypes() []TargetType {
	return []TargetType{TargetCharacter, TargetNpc, TargetParty, TargetLocation}
}

func (tt TargetType) String() string {
	if name, ok := targetTypeNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("TargetType(%d)", int(tt))
}

// Valid reports whether tt is one of the known target types.
func (tt TargetType) Valid() bool {
	_, ok := targetTypeNames[tt]
	return ok
}

// ParseTargetType parses the stored name of a target type. Matching is case
// insensitive so rows written by older tooling still load.
func ParseTargetType(s string) (TargetType, error) {
	for tt, name := range targetTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return tt, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTargetType, s)
}

func (tt TargetType) MarshalText() ([]byte, error) {
	if !tt.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTargetType, int(tt))
	}
	return []byte(tt.String()), nil
}

func (tt *TargetType) UnmarshalText(text []byte) error {
	parsed, err := ParseTargetType(string(text))
	if err != nil {
		return err
	}
	*tt = parsed
	return nil
}
