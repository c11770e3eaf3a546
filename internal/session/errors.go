// ABOUTME: RequestError: a gateway-reported failure for an outbound request.
// ABOUTME: Carries the request id and the error string from the response frame.

package session

import "fmt"

// RequestError is returned by Invoke when the gateway settles the request
// with ok:false. The session stays connected.
type RequestError struct {
	ID      string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %s failed: %s", e.ID, e.Message)
}
