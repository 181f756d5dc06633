package nlp

import "fmt"

// AuthError signals that no bearer token was available. Raised before any
// network traffic; the request is never attempted.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "not authenticated"
	}
	return "not authenticated: " + e.Reason
}

// RemoteError is a non-success HTTP response from the interpretation
// service. The raw response body is preserved for display.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("nlp service returned %d: %s", e.Status, e.Body)
}

// ValidationError rejects a request before it reaches the network, such as
// confirming a sale with no product selected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
