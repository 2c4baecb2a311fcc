package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// eventIDPattern defines the valid format for event identifiers:
// "sec_" followed by a millisecond timestamp and a random suffix.
// Example: "sec_1699999999999_a3f9d8c7b21"
var eventIDPattern = regexp.MustCompile(`^sec_[0-9]+_[a-z0-9]+$`)

// Submission is the wire format producers use to report an event.
// Enum fields are validated as strings so an unknown value is rejected
// at the boundary instead of flowing into the engine.
type Submission struct {
	EventType   string         `json:"event_type" validate:"required,event_type"`
	ThreatLevel string         `json:"threat_level" validate:"required,threat_level"`
	Content     string         `json:"content" validate:"required,max=65536"`
	IP          string         `json:"ip,omitempty" validate:"omitempty,ip"`
	SessionID   string         `json:"session_id,omitempty" validate:"omitempty,max=256"`
	UserID      string         `json:"user_id,omitempty" validate:"omitempty,max=256"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Details converts the submission into producer details for NewEvent.
func (s *Submission) Details() EventDetails {
	return EventDetails{
		Content:   s.Content,
		IP:        s.IP,
		SessionID: s.SessionID,
		UserID:    s.UserID,
		Metadata:  s.Metadata,
	}
}

// Validator checks producer submissions before they reach the engine
// and turns tag failures into field-level messages.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds the submission validator with the enum checks
// registered.
func NewValidator() *Validator {
	v := validator.New()

	// Report errors under the wire field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return EventType(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("threat_level", func(fl validator.FieldLevel) bool {
		return ThreatLevel(fl.Field().String()).IsValid()
	})

	return &Validator{validate: v}
}

// Check validates a submission. The returned slice holds one message
// per failing field; nil means the submission is valid.
func (v *Validator) Check(sub *Submission) []string {
	err := v.validate.Struct(sub)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return msgs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "event_type":
		return fmt.Sprintf("%s must be one of %v", fe.Field(), EventTypes())
	case "threat_level":
		return fmt.Sprintf("%s must be one of %v", fe.Field(), ThreatLevels())
	case "ip":
		return fmt.Sprintf("%s must be a valid IP address", fe.Field())
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// ValidateEventID checks if an id string matches the event id format.
func ValidateEventID(id string) bool {
	return eventIDPattern.MatchString(id)
}
