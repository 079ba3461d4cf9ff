package transfer

import (
	"strings"
	"time"
)

// HTTPRequestTimeout is the default timeout for all HTTP requests to the remote API.
const HTTPRequestTimeout = 60 * time.Second

// APIError is one entry of the error list the remote REST API returns on failure.
type APIError struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Fields    []string `json:"fields,omitempty"`
}

// APIErrors is the error body of a failed remote call.
type APIErrors []APIError

func (e APIErrors) Error() string {
	var msgs []string
	for _, v := range e {
		if v.ErrorCode != "" {
			msgs = append(msgs, v.ErrorCode+": "+v.Message)
		} else {
			msgs = append(msgs, v.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
