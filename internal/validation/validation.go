package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"points-ledger-api/internal/models"
)

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// maxPointsPerTransaction caps a single point movement.
const maxPointsPerTransaction = 1_000_000

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateUserID checks a user identifier for presence, length and charset.
func ValidateUserID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if len(id) > 64 {
		return &ValidationError{
			Field:   fieldName,
			Message: "cannot exceed 64 characters",
		}
	}

	if !userIDRegex.MatchString(id) {
		return &ValidationError{
			Field:   fieldName,
			Message: "contains invalid characters",
		}
	}

	return nil
}

// ValidateUser checks a user directory upsert.
func ValidateUser(user models.User) error {
	if err := ValidateUserID(user.ID, "id"); err != nil {
		return err
	}

	if user.Username == "" {
		return &ValidationError{
			Field:   "username",
			Message: "is required",
		}
	}

	if len(user.Username) > 128 {
		return &ValidationError{
			Field:   "username",
			Message: "cannot exceed 128 characters",
		}
	}

	return nil
}

// ValidatePointsRequest checks an earn/redeem/bonus request body. Points must
// be strictly positive for every kind; redeem negation happens in the ledger.
func ValidatePointsRequest(req models.PointsRequest) error {
	if err := ValidateUserID(req.UserID, "user_id"); err != nil {
		return err
	}

	if req.Points <= 0 {
		return &ValidationError{
			Field:   "points",
			Message: "must be positive",
		}
	}

	if req.Points > maxPointsPerTransaction {
		return &ValidationError{
			Field:   "points",
			Message: "exceeds maximum allowed amount",
		}
	}

	if len(req.Source) > 64 {
		return &ValidationError{
			Field:   "source",
			Message: "cannot exceed 64 characters",
		}
	}

	if len(req.Description) > 256 {
		return &ValidationError{
			Field:   "description",
			Message: "cannot exceed 256 characters",
		}
	}

	return nil
}

// ValidateActivityType checks a check-in activity type string.
func ValidateActivityType(activityType string) error {
	if activityType == "" {
		return &ValidationError{
			Field:   "activity_type",
			Message: "is required",
		}
	}

	if len(activityType) > 64 {
		return &ValidationError{
			Field:   "activity_type",
			Message: "cannot exceed 64 characters",
		}
	}

	return nil
}

// ValidateKind checks an optional history kind filter.
func ValidateKind(kind string) (models.TransactionKind, error) {
	k := models.TransactionKind(strings.ToUpper(kind))
	if !k.Valid() {
		return "", &ValidationError{
			Field:   "kind",
			Message: "must be one of EARN, REDEEM, BONUS",
		}
	}
	return k, nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
