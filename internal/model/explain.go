package model

import (
	"fmt"
	"strings"
)

// ExplanationLevel selects the audience an explanation is written for
type ExplanationLevel string

const (
	LevelBeginner ExplanationLevel = "beginner"
	LevelStandard ExplanationLevel = "standard"
	LevelExpert   ExplanationLevel = "expert"
)

// Audience returns the reader description handed to the explanation service
func (l ExplanationLevel) Audience() string {
	switch l {
	case LevelBeginner:
		return "primary school student (5 year old)"
	case LevelExpert:
		return "PhD researcher"
	default:
		return "high school student"
	}
}

// ParseLevel parses a level name, case-insensitively
func ParseLevel(s string) (ExplanationLevel, error) {
	switch ExplanationLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelBeginner:
		return LevelBeginner, nil
	case LevelStandard, "":
		return LevelStandard, nil
	case LevelExpert:
		return LevelExpert, nil
	}
	return "", fmt.Errorf("unknown explanation level: %s (supported: beginner, standard, expert)", s)
}
