// Package validation provides generic input validators, ported from the
// teacher's internal/validation/validator.go and re-themed for session
// and matchmaking payloads.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"connectline/internal/models"
)

var (
	ErrInvalidEnum        = errors.New("invalid enum value")
	ErrInvalidRange       = errors.New("value out of valid range")
	ErrStringTooLong      = errors.New("string exceeds maximum length")
	ErrStringTooShort     = errors.New("string below minimum length")
	ErrContainsSQLPattern = errors.New("input contains suspicious SQL patterns")
	ErrContainsXSSPattern = errors.New("input contains suspicious XSS patterns")
)

var (
	uuidRegex = regexp.MustCompile(`^[a-fA-F0-9-]{8,64}$`)

	sqlPatterns = []string{
		"'", "\"", ";", "--", "/*", "*/", "xp_", "sp_",
		"exec", "execute", "drop table", "union select",
	}
	xssPatterns = []string{
		"<script", "</script", "javascript:", "onerror=", "onload=", "<iframe",
	}
)

// ValidateEnum validates value is in allowed list.
func ValidateEnum(value string, allowed []string, fieldName string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %v", ErrInvalidEnum, fieldName, allowed)
}

// ValidateIntRange validates integer is within [min, max].
func ValidateIntRange(value, min, max int, fieldName string) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidRange, fieldName, min, max)
	}
	return nil
}

// ValidateStringLength validates string length bounds.
func ValidateStringLength(value string, minLen, maxLen int, fieldName string) error {
	if len(value) < minLen {
		return fmt.Errorf("%w: %s must be at least %d characters", ErrStringTooShort, fieldName, minLen)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrStringTooLong, fieldName, maxLen)
	}
	return nil
}

// ValidatePlayerID validates the opaque PlayerId shape used in submitted
// paths without assuming a specific format beyond sane bounds.
func ValidatePlayerID(id string) error {
	return ValidateStringLength(id, 1, 64, "player id")
}

// ValidateUUID validates a UUID-shaped identifier (SessionId, channel id).
func ValidateUUID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("%w: %s", ErrInvalidEnum, id)
	}
	return nil
}

// ValidateDifficulty checks membership in the closed difficulty set.
func ValidateDifficulty(d string) error {
	return ValidateEnum(d, []string{
		string(models.DifficultyEasy), string(models.DifficultyMedium), string(models.DifficultyHard),
	}, "difficulty")
}

// ValidateConnectionType checks membership in the closed edge-type set.
func ValidateConnectionType(t string) error {
	return ValidateEnum(t, []string{
		string(models.ConnectionTeammate), string(models.ConnectionCollege),
		string(models.ConnectionDraftClass), string(models.ConnectionPosition),
	}, "connection_type")
}

// ValidatePathShape performs the cheap, pre-engine shape checks (length and
// per-element sanity) that gate entry into the Session Engine's ordered
// validity rules (spec.md §4.5.2). It never evaluates edge membership —
// that decision belongs to the Session Engine against the Graph Store.
func ValidatePathShape(path []string) error {
	if len(path) == 0 {
		return errors.New("path must not be empty")
	}
	if len(path) > 64 {
		return fmt.Errorf("%w: path exceeds maximum length", ErrStringTooLong)
	}
	for _, id := range path {
		if err := ValidatePlayerID(id); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeString strips null bytes and surrounding whitespace. Defense in
// depth only; parameterized GORM queries are the primary defense.
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

// CheckSQLInjection flags obvious SQL metacharacter abuse in free-text
// fields (display names echoed back over the wire).
func CheckSQLInjection(input string) error {
	lower := strings.ToLower(input)
	for _, p := range sqlPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: contains %q", ErrContainsSQLPattern, p)
		}
	}
	return nil
}

// CheckXSS flags obvious script-injection patterns.
func CheckXSS(input string) error {
	lower := strings.ToLower(input)
	for _, p := range xssPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: contains %q", ErrContainsXSSPattern, p)
		}
	}
	return nil
}
