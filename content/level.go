package content

import (
	"fmt"
	"strings"
)

// Level is the amount of detail disclosed. Higher values disclose more.
type Level int

const (
	LevelPreview Level = iota
	LevelSummary
	LevelDetailed
	LevelTechnical
)

var levelNames = [...]string{"preview", "summary", "detailed", "technical"}

func (l Level) String() string {
	if !l.Valid() {
		return "unknown"
	}
	return levelNames[l]
}

func (l Level) Valid() bool {
	return l >= LevelPreview && l <= LevelTechnical
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
