package model

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Source tags where a detection came from.
type Source int

const (
	Edge Source = iota + 1
	Cloud
)

func (s Source) String() string {
	switch s {
	case Edge:
		return "EDGE"
	case Cloud:
		return "CLOUD"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// ParseSource converts a wire value ("EDGE", "cloud", ...) into a Source.
func ParseSource(value string) (Source, error) {
	switch strings.ToUpper(value) {
	case "EDGE":
		return Edge, nil
	case "CLOUD":
		return Cloud, nil
	}
	return 0, errors.Newf("unknown detection source %q", value)
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
