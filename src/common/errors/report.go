package errors

import "errors"

// Report is the serializable form of an error used in machine-readable
// command output (json/yaml summaries)
type Report struct {
	// Error contains the error code (domain.code format)
	Error string `json:"error" yaml:"error"`

	// Message contains a human-readable error message
	Message string `json:"message" yaml:"message"`

	// Cause contains the underlying error text, if any
	Cause string `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// ToReport converts an Error to its serializable form
func (e *Error) ToReport() Report {
	r := Report{
		Error:   string(e.Domain) + "." + string(e.Code),
		Message: e.Message,
	}
	if e.cause != nil {
		r.Cause = e.cause.Error()
	}
	return r
}

// ReportFor converts any error to a Report. Plain errors are reported
// under the internal domain. Returns nil for a nil error.
func ReportFor(err error) *Report {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		r := e.ToReport()
		return &r
	}
	return &Report{
		Error:   string(DomainInternal) + "." + string(CodeFailed),
		Message: err.Error(),
	}
}
