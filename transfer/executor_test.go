package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func widgetRequests(t *testing.T, n int) []TransferRequest {
	t.Helper()
	var result []TransferRequest
	records := widgets(n)
	for i := range records {
		result = append(result, TransferRequest{
			SObjectType: "Widget__c",
			Operation:   Upsert,
			Payload:     records[i : i+1],
			ExtIDField:  "Legacy_Id__c",
		})
	}
	return result
}

func externalIDs(results []RecordResult) []string {
	var result []string
	for _, r := range results {
		result = append(result, r.ExternalID)
	}
	return result
}

func TestTransferExecutor_SerialStopsAtFirstError(t *testing.T) {
	remote := &fakeRemote{transfer: func(req TransferRequest, call int) ([]RecordResult, error) {
		if call == 1 {
			return nil, errors.New("socket hang up")
		}
		return successResults(req), nil
	}}
	e := TransferExecutor{Remote: remote}
	_, err := e.SendAll(context.Background(), widgetRequests(t, 4), false)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport))
	assert.Len(t, remote.Requests(), 2)
}

func TestTransferExecutor_ParallelKeepsRequestOrder(t *testing.T) {
	remote := &fakeRemote{transfer: func(req TransferRequest, call int) ([]RecordResult, error) {
		// earlier requests answer last
		id, _ := req.Payload[0].ExternalID("Legacy_Id__c")
		if id == "W-0000" {
			time.Sleep(30 * time.Millisecond)
		}
		return successResults(req), nil
	}}
	e := TransferExecutor{Remote: remote, Metrics: NewMetrics()}
	results, err := e.SendAll(context.Background(), widgetRequests(t, 5), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"W-0000", "W-0001", "W-0002", "W-0003", "W-0004"}, externalIDs(results))
	assert.Len(t, remote.Requests(), 5)
}

func TestTransferExecutor_ParallelJoinsErrors(t *testing.T) {
	remote := &fakeRemote{transfer: func(req TransferRequest, call int) ([]RecordResult, error) {
		id, _ := req.Payload[0].ExternalID("Legacy_Id__c")
		if id == "W-0001" || id == "W-0003" {
			return nil, errors.New("failed " + id)
		}
		return successResults(req), nil
	}}
	e := TransferExecutor{Remote: remote}
	_, err := e.SendAll(context.Background(), widgetRequests(t, 4), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed W-0001")
	assert.Contains(t, err.Error(), "failed W-0003")
	// every request was sent
	assert.Len(t, remote.Requests(), 4)
}

func TestTransferExecutor_DoesNotDeduplicate(t *testing.T) {
	remote := &fakeRemote{transfer: func(req TransferRequest, call int) ([]RecordResult, error) {
		return []RecordResult{{ExternalID: "W-0000"}, {ExternalID: "W-0000"}}, nil
	}}
	e := TransferExecutor{Remote: remote}
	results, err := e.SendAll(context.Background(), widgetRequests(t, 1), false)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestTransferExecutor_InvalidRequest(t *testing.T) {
	e := TransferExecutor{Remote: &fakeRemote{}}
	_, err := e.Send(context.Background(), TransferRequest{SObjectType: "Widget__c", Operation: "merge"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfig))
	assert.False(t, retryable(err))
}

func TestTransferExecutor_UnserializablePayload(t *testing.T) {
	remote := &fakeRemote{}
	req := TransferRequest{
		SObjectType: "Widget__c",
		Operation:   Upsert,
		Payload:     []Record{{"Legacy_Id__c": "W-1", "Handle": make(chan int)}},
		ExtIDField:  "Legacy_Id__c",
	}
	_, err := TransferExecutor{Remote: remote}.Send(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRead))
	assert.Empty(t, remote.Requests())
}
