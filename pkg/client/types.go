package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Capabilities are the optional interfaces an object implements.
type Capabilities struct {
	StateManageable    bool `json:"stateManageable"`
	StatisticsProvider bool `json:"statisticsProvider"`
	EventProvider      bool `json:"eventProvider"`
}

// Object is a managed object, or a backing service, as the server
// describes it.
type Object struct {
	Name         string              `json:"name"`
	Type         string              `json:"j2eeType,omitempty"`
	Capabilities *Capabilities       `json:"capabilities,omitempty"`
	State        string              `json:"state,omitempty"`
	Attributes   map[string]any      `json:"attributes"`
	Children     map[string][]string `json:"children,omitempty"`
}

// Stats is the statistics snapshot of one object. Stats holds the
// statistics keyed by name, each a JSON object.
type Stats struct {
	Name     string                     `json:"name"`
	Category string                     `json:"category"`
	Stats    map[string]json.RawMessage `json:"stats"`
}

// Component is a bean, servlet, resource adapter or mbean of a deployment.
type Component struct {
	Kind                string   `json:"kind"`
	Name                string   `json:"name"`
	Class               string   `json:"class,omitempty"`
	JNDIName            string   `json:"jndiName,omitempty"`
	ConnectionFactories []string `json:"connectionFactories,omitempty"`
}

// Deployment is one deployed unit and its nested modules.
type Deployment struct {
	Name       string       `json:"name"`
	Location   string       `json:"location"`
	Kind       string       `json:"kind"`
	Deployer   string       `json:"deployer"`
	Service    string       `json:"service"`
	Components []Component  `json:"components,omitempty"`
	Children   []Deployment `json:"children,omitempty"`
}

// Health is the answer of the health endpoint.
type Health struct {
	Status  string `json:"status"`
	Domain  string `json:"domain"`
	Objects int    `json:"objects"`
}

// Notification is one event of the notification stream.
type Notification struct {
	ID       string
	Type     string
	Source   string
	J2EEType string
	Sequence int64
	Time     time.Time
	Message  string
	// Attribute is set on attribute change notifications.
	Attribute *AttributeChange
}

// AttributeChange describes a changed attribute.
type AttributeChange struct {
	Name     string `json:"name"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// WatchFilter narrows the notification stream.
type WatchFilter struct {
	Types   []string
	Pattern string
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx answer of the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsConflict reports whether the server refused the operation for the
// object, such as a lifecycle call on an object without state.
func IsConflict(err error) bool { return statusIs(err, http.StatusConflict) }

func statusIs(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == code
}
