package models

import "fmt"

// ErrorKind is the error taxonomy of spec §7: each kind carries its own
// retry and propagation semantics, decided by callers via errors.As.
type ErrorKind string

const (
	KindTransport    ErrorKind = "transport"
	KindHTTPStatus   ErrorKind = "http_status"
	KindParsing      ErrorKind = "parsing"
	KindValidation   ErrorKind = "validation"
	KindPersistence  ErrorKind = "persistence"
	KindBrowser      ErrorKind = "browser"
	KindNotification ErrorKind = "notification"
	KindNoScraper    ErrorKind = "no_scraper"
)

// DomainError is the shared wrapped-error shape for every component
// boundary: kind, message, URL, and the wrapped cause, keyed on the
// error taxonomy of spec §7.
type DomainError struct {
	Kind       ErrorKind
	Message    string
	URL        string
	HTTPStatus int
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		if e.URL != "" {
			return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Message, e.URL, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.URL != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.URL)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Retryable reports whether the error kind is retryable per the taxonomy in
// spec §7. HttpStatus is retryable in general, 404 included.
func (e *DomainError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindHTTPStatus, KindBrowser:
		return true
	default:
		return false
	}
}

// NewTransportError wraps a network/DNS/TLS/timeout failure.
func NewTransportError(url string, err error) *DomainError {
	return &DomainError{Kind: KindTransport, Message: "transport failure", URL: url, Err: err}
}

// NewHTTPStatusError wraps a 4xx/5xx provider response.
func NewHTTPStatusError(url string, status int) *DomainError {
	return &DomainError{Kind: KindHTTPStatus, Message: "unexpected HTTP status", URL: url, HTTPStatus: status}
}

// NewParsingError wraps a schema mismatch or missing-key failure.
func NewParsingError(url string, err error) *DomainError {
	return &DomainError{Kind: KindParsing, Message: "parse failure", URL: url, Err: err}
}

// NewPersistenceError wraps a non-idempotent persistence failure. Unique
// constraint violations are not wrapped here; the storage adapter treats
// them as success per spec §7.
func NewPersistenceError(err error) *DomainError {
	return &DomainError{Kind: KindPersistence, Message: "persistence failure", Err: err}
}

// NewBrowserError wraps a headless launch/navigation/selector failure.
func NewBrowserError(url string, err error) *DomainError {
	return &DomainError{Kind: KindBrowser, Message: "headless renderer failure", URL: url, Err: err}
}

// ErrNoScraper is returned when no registered scraper's URL predicate
// matches and no organiser hint was supplied or recognised.
var ErrNoScraper = &DomainError{Kind: KindNoScraper, Message: "no scraper matched event URL"}
