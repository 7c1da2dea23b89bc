package model

import "fmt"

// EpiState is the epidemiological state of an actor.
type EpiState int

const (
	Susceptible EpiState = iota
	Infected
	Recovered
	Dead
)

// String returns the lowercase state name used in logs and snapshot files.
func (s EpiState) String() string {
	switch s {
	case Susceptible:
		return "susceptible"
	case Infected:
		return "infected"
	case Recovered:
		return "recovered"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the four known states.
func (s EpiState) Valid() bool {
	return s >= Susceptible && s <= Dead
}

// ParseEpiState maps a state name back to its value.
func ParseEpiState(name string) (EpiState, bool) {
	switch name {
	case "susceptible", "S":
		return Susceptible, true
	case "infected", "I":
		return Infected, true
	case "recovered", "R":
		return Recovered, true
	case "dead", "D":
		return Dead, true
	default:
		return Susceptible, false
	}
}

// MarshalText lets EpiState serialise by name in JSON and YAML.
func (s EpiState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts any name ParseEpiState understands.
func (s *EpiState) UnmarshalText(text []byte) error {
	v, ok := ParseEpiState(string(text))
	if !ok {
		return fmt.Errorf("unknown epidemiological state %q", text)
	}
	*s = v
	return nil
}
