package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	transferPath        = "/services/apexrest/bourne/v1"
	managedTransferPath = "/services/apexrest/JSON/bourne/v1"
)

// SalesforceClient is the Remote backed by the Salesforce REST API and the
// bourne Apex REST endpoint.
type SalesforceClient struct {
	API               APISettings
	UseManagedPackage bool
	MaxFetch          int
	// RecordRequests saves every request and response under RecordingDir.
	RecordRequests bool
	RecordingDir   string
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// NewSalesforceClient returns a client for the org configured in cfg.
func NewSalesforceClient(cfg Config, logger *zap.Logger) *SalesforceClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SalesforceClient{
		API:               cfg.API,
		UseManagedPackage: cfg.UseManagedPackage,
		MaxFetch:          cfg.MaxFetch,
		Logger:            logger,
	}
}

// APIBuilder returns a new requests.Builder configured for the org.
func (c *SalesforceClient) APIBuilder() *requests.Builder {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: HTTPRequestTimeout}
	}
	result := requests.
		URL(c.API.InstanceURL).
		Client(client).
		Bearer(c.API.AccessToken)
	if c.RecordRequests {
		dir := c.RecordingDir
		if dir == "" {
			dir = "testdata/.requests"
		}
		result = result.Transport(requests.Record(client.Transport, dir))
	}
	return result
}

// TransferPath returns the path of the import endpoint.
func (c *SalesforceClient) TransferPath() string {
	if c.UseManagedPackage {
		return managedTransferPath
	}
	return transferPath
}

// Transfer posts one payload to the import endpoint. The endpoint answers with a
// JSON array of record results, or with that array encoded again as a JSON
// string; both are accepted.
func (c *SalesforceClient) Transfer(ctx context.Context, req TransferRequest) ([]RecordResult, error) {
	var body bytes.Buffer
	var apierrs APIErrors

	err := c.APIBuilder().
		Path(c.TransferPath()).
		BodyJSON(&req).
		ToBytesBuffer(&body).
		ErrorJSON(&apierrs).
		Fetch(ctx)
	if err != nil {
		if len(apierrs) > 0 {
			return nil, newError(KindTransport, req.SObjectType, err, "%s failed: %s", req.Operation, apierrs.Error())
		}
		return nil, newError(KindTransport, req.SObjectType, err, "%s failed", req.Operation)
	}

	results, err := decodeRecordResults(body.Bytes())
	if err != nil {
		return nil, newError(KindTransport, req.SObjectType, err, "unexpected response from %s", c.TransferPath())
	}
	return results, nil
}

func decodeRecordResults(b []byte) ([]RecordResult, error) {
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("response is not JSON")
	}
	parsed := gjson.ParseBytes(b)
	if parsed.Type == gjson.String {
		inner := parsed.String()
		if !gjson.Valid(inner) {
			return nil, fmt.Errorf("response string is not JSON")
		}
		parsed = gjson.Parse(inner)
	}
	if !parsed.IsArray() {
		return nil, fmt.Errorf("response is not a list of record results")
	}
	var result []RecordResult
	if err := json.Unmarshal([]byte(parsed.Raw), &result); err != nil {
		return nil, err
	}
	return result, nil
}

// QueryPath returns the path of the query resource.
func (c *SalesforceClient) QueryPath() string {
	version := c.API.Version
	if version == "" {
		version = DefaultAPIVersion
	}
	return fmt.Sprintf("/services/data/%s/query", version)
}

// Query streams the records matching a SOQL query to fn, following
// nextRecordsUrl until the query is done or MaxFetch records were fetched.
// It returns the total size reported by the remote.
func (c *SalesforceClient) Query(ctx context.Context, soql string, fn func(Record) error) (int, error) {
	maxfetch := c.MaxFetch
	if maxfetch <= 0 {
		maxfetch = DefaultMaxFetch
	}
	var total, fetched int
	next := ""
	for {
		var body bytes.Buffer
		var apierrs APIErrors
		builder := c.APIBuilder()
		if next == "" {
			builder = builder.Path(c.QueryPath()).Param("q", soql)
		} else {
			builder = builder.Path(next)
		}
		err := builder.
			ToBytesBuffer(&body).
			ErrorJSON(&apierrs).
			Fetch(ctx)
		if err != nil {
			if len(apierrs) > 0 {
				return fetched, fmt.Errorf("query failed: %s %w", apierrs.Error(), err)
			}
			return fetched, fmt.Errorf("query failed %w", err)
		}

		page := NewSource(body.Bytes())
		if n, ok := page.IntForPath("totalSize"); ok {
			total = int(n)
		}
		for _, raw := range page.data.Get("records").Array() {
			if fetched >= maxfetch {
				break
			}
			r, err := decodeRecord([]byte(raw.Raw))
			if err != nil {
				return fetched, fmt.Errorf("failed to decode query record %w", err)
			}
			if err = fn(r); err != nil {
				return fetched, err
			}
			fetched++
		}

		done, _ := page.BoolForPath("done")
		next, _ = page.StringForPath("nextRecordsUrl")
		if done || next == "" || fetched >= maxfetch {
			break
		}
	}
	if c.Logger != nil {
		c.Logger.Debug("query finished", zap.Int("totalSize", total), zap.Int("fetched", fetched))
	}
	return total, nil
}
