package server

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
)

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return lo.ToPtr(parsed), nil
}

func parseIntDefault(value string, fallback int) (int, error) {
	parsed, err := parseOptionalInt(value)
	if err != nil {
		return 0, err
	}
	return lo.FromPtrOr(parsed, fallback), nil
}

// wantsLegacy reports whether the caller asked for the old field names.
func wantsLegacy(value string) bool {
	legacy, err := parseOptionalBool(value)
	return err == nil && lo.FromPtr(legacy)
}
