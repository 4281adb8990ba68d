package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across services.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldInstance   = "instance"
	FieldRequestID  = "request_id"
	FieldSpecimenID = "specimen_id"
	FieldQueue      = "queue"
	FieldOutcome    = "outcome"
	FieldAttempt    = "attempt"
	FieldIP         = "ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldErrorClass = "error_class"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for a named part of a service.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// Instance returns a slog attribute for a consumer instance number.
func Instance(n int) slog.Attr {
	return slog.Int(FieldInstance, n)
}

// SpecimenID returns a slog attribute for the specimen ID.
func SpecimenID(id string) slog.Attr {
	return slog.String(FieldSpecimenID, id)
}

// Queue returns a slog attribute for a queue name.
func Queue(name string) slog.Attr {
	return slog.String(FieldQueue, name)
}

// Outcome returns a slog attribute for how a message was settled.
func Outcome(outcome string) slog.Attr {
	return slog.String(FieldOutcome, outcome)
}

// Attempt returns a slog attribute for a delivery attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// ErrorClass returns a slog attribute for how an error was classified.
func ErrorClass(class string) slog.Attr {
	return slog.String(FieldErrorClass, class)
}
