package publishing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// Connection errors
	ErrAlreadyStarted = errors.New("publishing: publisher already started")

	// Publisher errors
	ErrPublisherClosed = errors.New("publishing: publisher is closed")
	ErrPublishRejected = errors.New("publishing: publish rejected by broker")

	// Topology errors
	ErrDeclareFailed = errors.New("publishing: exchange declaration failed")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("publishing connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError represents a publish operation error
type PublishError struct {
	Exchange   string    // Target exchange
	RoutingKey string    // Routing key used
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// SanitizeURL removes credentials from connection URLs before logging.
func SanitizeURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme < 0 || scheme+3 > at {
		return "***"
	}
	return url[:scheme+3] + "***" + url[at:]
}
