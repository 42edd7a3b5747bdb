package gateway

import "errors"

// ErrServiceUnavailable is returned when no healthy node in a key's
// replication list could serve the request.
var ErrServiceUnavailable = errors.New("gateway: no healthy node available")
