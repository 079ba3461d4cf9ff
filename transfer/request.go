package transfer

import (
	"errors"
	"fmt"
)

// Operation is the remote operation applied to every record of a request.
type Operation string

const (
	Upsert Operation = "upsert"
	Delete Operation = "delete"
)

// TransferRequest is one payload sent to the remote import endpoint.
// Its serialized record list fits the payload budget unless it holds a single
// oversized record.
type TransferRequest struct {
	SObjectType string    `json:"sObjectType"`
	Operation   Operation `json:"operation"`
	Payload     []Record  `json:"payload"`
	ExtIDField  string    `json:"extIdField"`
}

// Validate checks the request is complete before it is sent.
func (r TransferRequest) Validate() error {
	var errs []error
	if r.SObjectType == "" {
		errs = append(errs, errors.New("missing sObjectType"))
	}
	if r.Operation != Upsert && r.Operation != Delete {
		errs = append(errs, fmt.Errorf("unsupported operation %q", r.Operation))
	}
	if r.ExtIDField == "" {
		errs = append(errs, errors.New("missing extIdField"))
	}
	return errors.Join(errs...)
}

// ItemCount returns the number of records in the request.
func (r TransferRequest) ItemCount() int {
	return len(r.Payload)
}

// ResultStatus is the per record status reported by the remote endpoint.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
)

// RecordResult is the outcome of one record of a request.
// Results are correlated with records by external id, never by position.
type RecordResult struct {
	RecordID   string       `json:"recordId,omitempty"`
	ExternalID string       `json:"externalId,omitempty"`
	Message    string       `json:"message,omitempty"`
	Result     ResultStatus `json:"result,omitempty"`
}

// IsSuccess reports whether the record was accepted.
func (r RecordResult) IsSuccess() bool {
	return r.Result != ResultFailed
}
