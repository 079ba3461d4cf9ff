package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRemote records every call and answers transfers with one success per record
// unless transfer is set.
type fakeRemote struct {
	mu          sync.Mutex
	requests    []TransferRequest
	queries     []string
	transfer    func(req TransferRequest, call int) ([]RecordResult, error)
	recordTypes []Record
	records     []Record
	queryErr    error
}

func (f *fakeRemote) Transfer(ctx context.Context, req TransferRequest) ([]RecordResult, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.transfer != nil {
		return f.transfer(req, call)
	}
	return successResults(req), nil
}

func (f *fakeRemote) Query(ctx context.Context, query string, fn func(Record) error) (int, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.queryErr != nil {
		return 0, f.queryErr
	}
	source := f.records
	if strings.Contains(query, "FROM RecordType") {
		source = f.recordTypes
	}
	for _, r := range source {
		if err := fn(copyRecord(r)); err != nil {
			return 0, err
		}
	}
	return len(source), nil
}

func (f *fakeRemote) Requests() []TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TransferRequest(nil), f.requests...)
}

func (f *fakeRemote) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func successResults(req TransferRequest) []RecordResult {
	var result []RecordResult
	for i, r := range req.Payload {
		id, _ := r.ExternalID(req.ExtIDField)
		result = append(result, RecordResult{
			RecordID:   fmt.Sprintf("a0%s%04d", req.SObjectType[:1], i),
			ExternalID: id,
			Result:     ResultSuccess,
		})
	}
	return result
}

// copyRecord deep copies a record through JSON.
func copyRecord(r Record) Record {
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	result, err := decodeRecord(b)
	if err != nil {
		panic(err)
	}
	return result
}

// widgets returns n records of the Widget object type with external ids W-0000 onwards.
func widgets(n int) []Record {
	var result []Record
	for i := 0; i < n; i++ {
		result = append(result, Record{
			"Name":         fmt.Sprintf("Widget %d", i),
			"Legacy_Id__c": fmt.Sprintf("W-%04d", i),
			"Description":  strings.Repeat("w", 40+i%7),
			"Price__c":     json.Number(fmt.Sprintf("%d.50", i)),
		})
	}
	return result
}

// stage writes records into dir the way RecordStore.Write lays them out.
func stage(t *testing.T, dir string, extidfield string, records []Record) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, r := range records {
		id, ok := r.ExternalID(extidfield)
		require.True(t, ok)
		b, err := json.MarshalIndent(r, "", "  ")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(id)), b, 0o644))
	}
}
