package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func orchestratorConfig(datadir string) Config {
	return Config{
		PayloadLength: 5000,
		ImportRetries: 3,
		MaxFetch:      DefaultMaxFetch,
		DataDir:       datadir,
		AllObjects:    []string{"Gadget__c", "Widget__c", "Gadget__c"},
		Scripts: ScriptsConfig{
			PreImport:        "preimport",
			PreImportObject:  "preimportobject",
			PostImportObject: "postimportobject",
			PostImport:       "postimport",
			PreExport:        "preexport",
			PreExportObject:  "preexportobject",
			PostExportObject: "postexportobject",
			PostExport:       "postexport",
		},
		Objects: map[string]ObjectConfig{
			"Gadget__c": {
				ExternalID: "Legacy_Id__c",
				Directory:  "gadgets",
				Query:      "SELECT Name, Legacy_Id__c, Owner, Category__r FROM Gadget__c",
				CleanupFields: []string{
					"Owner", "Category__r",
				},
			},
			"Widget__c": {
				ExternalID:           "Legacy_Id__c",
				Directory:            "widgets",
				EnableMultiThreading: true,
				HasRecordTypes:       true,
			},
		},
	}
}

type hookLog struct {
	calls []string
}

func (l *hookLog) registry() *HookRegistry {
	registry := NewHookRegistry()
	for _, path := range []string{
		"preimport", "preimportobject", "postimportobject", "postimport",
		"preexport", "preexportobject", "postexportobject", "postexport",
	} {
		registry.Register(path, HandlerFunc(func(ctx context.Context, hc *HookContext) (interface{}, error) {
			l.calls = append(l.calls, hc.Point.String()+" "+hc.ObjectType)
			return nil, nil
		}))
	}
	return registry
}

func gadgets(n int) []Record {
	var result []Record
	for _, w := range widgets(n) {
		w["Legacy_Id__c"] = "G" + w["Legacy_Id__c"].(string)[1:]
		result = append(result, w)
	}
	return result
}

func TestOrchestrator_ImportAll(t *testing.T) {
	datadir := t.TempDir()
	cfg := orchestratorConfig(datadir)
	widgetRecords := widgets(120)
	widgetRecords[3]["RecordType"] = map[string]interface{}{"DeveloperName": "Gizmo"}
	stage(t, filepath.Join(datadir, "widgets"), "Legacy_Id__c", widgetRecords)
	stage(t, filepath.Join(datadir, "gadgets"), "Legacy_Id__c", gadgets(2))

	remote := &fakeRemote{recordTypes: widgetRecordTypes}
	hooks := &hookLog{}
	var out bytes.Buffer
	o := &Orchestrator{
		Config:   cfg,
		Remote:   remote,
		Registry: hooks.registry(),
		Logger:   zaptest.NewLogger(t),
		Metrics:  NewMetrics(),
		Out:      &out,
	}

	outcomes, err := o.Import(context.Background(), Selector{All: true}, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "Gadget__c", outcomes[0].ObjectType)
	assert.Equal(t, "Widget__c", outcomes[1].ObjectType)
	assert.Equal(t, 2, outcomes[0].Total)
	assert.Equal(t, 120, outcomes[1].Total)
	assert.Greater(t, outcomes[1].Requests, 1)
	for _, outcome := range outcomes {
		assert.Equal(t, DoneSuccess, outcome.State)
		assert.Equal(t, outcome.Total, outcome.Success+outcome.Failure)
	}

	assert.Equal(t, []string{
		"before-run ",
		"before-object Gadget__c",
		"after-object Gadget__c",
		"before-object Widget__c",
		"after-object Widget__c",
		"after-run ",
	}, hooks.calls)

	var resolved bool
	for _, req := range remote.Requests() {
		assert.Equal(t, Upsert, req.Operation)
		for _, r := range req.Payload {
			if id, _ := r.ExternalID("Legacy_Id__c"); id == "W-0003" {
				assert.Equal(t, "012000000000002", r["RecordTypeId"])
				assert.NotContains(t, r, "RecordType")
				resolved = true
			}
		}
	}
	assert.True(t, resolved)
	assert.Contains(t, out.String(), "Widget__c: SUCCESS")
	assert.Equal(t, float64(120), testutil.ToFloat64(o.Metrics.records.WithLabelValues("Widget__c", string(ResultSuccess))))
}

func TestOrchestrator_ImportIsRepeatable(t *testing.T) {
	datadir := t.TempDir()
	cfg := orchestratorConfig(datadir)
	records := widgets(90)
	for i := 0; i < len(records); i += 9 {
		records[i]["RecordType"] = map[string]interface{}{"DeveloperName": "Gadget"}
	}
	records[4]["RecordType"] = map[string]interface{}{"DeveloperName": "Gizmo"}
	stage(t, filepath.Join(datadir, "widgets"), "Legacy_Id__c", records)

	remote := &fakeRemote{recordTypes: widgetRecordTypes}
	remote.transfer = func(req TransferRequest, call int) ([]RecordResult, error) {
		results := successResults(req)
		for i, r := range req.Payload {
			if id, _ := r.ExternalID("Legacy_Id__c"); id == "W-0007" {
				results[i].Result = ResultFailed
				results[i].Message = "FIELD_CUSTOM_VALIDATION_EXCEPTION"
			}
		}
		return results, nil
	}
	cfg.TolerateFailures = true
	cfg.ImportRetries = 1
	// serial, so both runs log their payloads in the same order
	widget := cfg.Objects["Widget__c"]
	widget.EnableMultiThreading = false
	cfg.Objects["Widget__c"] = widget
	o := &Orchestrator{Config: cfg, Remote: remote, Registry: (&hookLog{}).registry()}

	first, err := o.Import(context.Background(), Selector{Object: "Widget__c"}, false)
	require.NoError(t, err)
	sent := len(remote.Requests())
	second, err := o.Import(context.Background(), Selector{Object: "Widget__c"}, false)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	for _, outcome := range []TransferOutcome{first[0], second[0]} {
		assert.Equal(t, 90, outcome.Total)
		assert.Equal(t, 89, outcome.Success)
		assert.Equal(t, 1, outcome.Failure)
		assert.Equal(t, DonePartial, outcome.State)
	}
	assert.Equal(t, first[0].Requests, second[0].Requests)
	assert.Equal(t, first[0].FailureResults, second[0].FailureResults)

	reqs := remote.Requests()
	require.Len(t, reqs, 2*sent)
	for i := 0; i < sent; i++ {
		assert.Equal(t, externalIDsOf(reqs[i].Payload), externalIDsOf(reqs[sent+i].Payload), "payload %d", i)
		for j, r := range reqs[i].Payload {
			assert.Equal(t, r["RecordTypeId"], reqs[sent+i].Payload[j]["RecordTypeId"])
			assert.NotContains(t, reqs[sent+i].Payload[j], "RecordType")
		}
	}
}

func externalIDsOf(records []Record) []string {
	var result []string
	for _, r := range records {
		id, _ := r.ExternalID("Legacy_Id__c")
		result = append(result, id)
	}
	return result
}

func TestOrchestrator_RemoveRunsInReverse(t *testing.T) {
	datadir := t.TempDir()
	cfg := orchestratorConfig(datadir)
	stage(t, filepath.Join(datadir, "widgets"), "Legacy_Id__c", widgets(2))
	stage(t, filepath.Join(datadir, "gadgets"), "Legacy_Id__c", gadgets(2))
	remote := &fakeRemote{}
	hooks := &hookLog{}
	o := &Orchestrator{Config: cfg, Remote: remote, Registry: hooks.registry()}

	outcomes, err := o.Import(context.Background(), Selector{All: true}, true)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "Widget__c", outcomes[0].ObjectType)
	assert.Equal(t, "Gadget__c", outcomes[1].ObjectType)

	reqs := remote.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "Widget__c", reqs[0].SObjectType)
	for _, req := range reqs {
		assert.Equal(t, Delete, req.Operation)
	}
}

func TestOrchestrator_RetryRereadsStagedRecords(t *testing.T) {
	datadir := t.TempDir()
	cfg := orchestratorConfig(datadir)
	dir := filepath.Join(datadir, "gadgets")
	stage(t, dir, "Legacy_Id__c", gadgets(2))

	remote := &fakeRemote{}
	remote.transfer = func(req TransferRequest, call int) ([]RecordResult, error) {
		results := successResults(req)
		if call == 0 {
			results[0].Result = ResultFailed
			results[0].Message = "UNABLE_TO_LOCK_ROW"
			// a fix lands on disk before the next attempt
			stage(t, dir, "Legacy_Id__c", []Record{{"Legacy_Id__c": "G-0009", "Name": "late"}})
		}
		return results, nil
	}
	o := &Orchestrator{Config: cfg, Remote: remote, Registry: (&hookLog{}).registry()}
	outcomes, err := o.Import(context.Background(), Selector{Object: "Gadget__c"}, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 2, outcomes[0].Attempts)
	assert.Equal(t, 3, outcomes[0].Total, "only the last attempt counts")
	assert.Equal(t, 0, outcomes[0].Failure)

	reqs := remote.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Payload, 2)
	assert.Len(t, reqs[1].Payload, 3, "the whole set is sent again")
}

func TestOrchestrator_ExhaustedStopsRun(t *testing.T) {
	datadir := t.TempDir()
	cfg := orchestratorConfig(datadir)
	stage(t, filepath.Join(datadir, "gadgets"), "Legacy_Id__c", gadgets(2))
	stage(t, filepath.Join(datadir, "widgets"), "Legacy_Id__c", widgets(2))

	remote := &fakeRemote{transfer: func(req TransferRequest, call int) ([]RecordResult, error) {
		results := successResults(req)
		results[1].Result = ResultFailed
		results[1].Message = "DUPLICATE_VALUE"
		return results, nil
	}}
	hooks := &hookLog{}
	o := &Orchestrator{Config: cfg, Remote: remote, Registry: hooks.registry()}
	outcomes, err := o.Import(context.Background(), Selector{All: true}, false)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExhausted))
	assert.Contains(t, err.Error(), "G-0001")
	assert.Contains(t, err.Error(), "DUPLICATE_VALUE")

	require.Len(t, outcomes, 1)
	assert.Equal(t, DoneExhausted, outcomes[0].State)
	assert.Len(t, remote.Requests(), 3)
	assert.NotContains(t, hooks.calls, "before-object Widget__c")
	assert.NotContains(t, hooks.calls, "after-run ")
}

func TestOrchestrator_HookErrorAbortsWithoutRetry(t *testing.T) {
	datadir := t.TempDir()
	cfg := orchestratorConfig(datadir)
	stage(t, filepath.Join(datadir, "gadgets"), "Legacy_Id__c", gadgets(2))
	remote := &fakeRemote{}
	hooks := &hookLog{}
	registry := hooks.registry()
	registry.Register("postimportobject", HandlerFunc(func(ctx context.Context, hc *HookContext) (interface{}, error) {
		return nil, errors.New("audit table unavailable")
	}))
	o := &Orchestrator{Config: cfg, Remote: remote, Registry: registry}

	_, err := o.Import(context.Background(), Selector{Object: "Gadget__c"}, false)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindHook))
	assert.Len(t, remote.Requests(), 1)
}

func TestOrchestrator_SelectorErrors(t *testing.T) {
	o := &Orchestrator{Config: orchestratorConfig(t.TempDir()), Remote: &fakeRemote{}, Registry: (&hookLog{}).registry()}
	for _, selector := range []Selector{{}, {Object: "Widget__c", All: true}, {Object: "Sprocket__c"}} {
		_, err := o.Import(context.Background(), selector, false)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConfig), "selector %+v", selector)
	}
}

func TestOrchestrator_ImportNothingStaged(t *testing.T) {
	o := &Orchestrator{Config: orchestratorConfig(t.TempDir()), Remote: &fakeRemote{}, Registry: (&hookLog{}).registry()}
	outcomes, err := o.Import(context.Background(), Selector{Object: "Widget__c"}, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 0, outcomes[0].Attempts)
	assert.Equal(t, "NO RECORDS TO PUSH", outcomes[0].Summary())
}

func TestOrchestrator_Export(t *testing.T) {
	datadir := t.TempDir()
	cfg := orchestratorConfig(datadir)
	remote := &fakeRemote{records: []Record{
		{
			"attributes":   map[string]interface{}{"type": "Gadget__c", "url": "/services/data/v58.0/sobjects/Gadget__c/a01"},
			"Name":         "Sprocket",
			"Legacy_Id__c": "G 1",
			"Owner":        nil,
			"Category__r": map[string]interface{}{
				"attributes":   map[string]interface{}{"type": "Category__c"},
				"Legacy_Id__c": "C-1",
			},
		},
	}}
	var seen []Record
	hooks := &hookLog{}
	registry := hooks.registry()
	registry.Register("postexportobject", HandlerFunc(func(ctx context.Context, hc *HookContext) (interface{}, error) {
		seen = hc.Records
		return map[string]int{"count": len(hc.Records)}, nil
	}))
	o := &Orchestrator{Config: cfg, Remote: remote, Registry: registry, Metrics: NewMetrics()}

	results, err := o.Export(context.Background(), Selector{Object: "Gadget__c"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].TotalSize)
	assert.Len(t, seen, 1)
	assert.Equal(t, []string{cfg.Objects["Gadget__c"].Query}, remote.Queries())

	b, err := os.ReadFile(filepath.Join(datadir, "gadgets", "G-1.json"))
	require.NoError(t, err)
	var written map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &written))
	assert.NotContains(t, written, "attributes")
	assert.NotContains(t, written, "Owner")
	assert.Contains(t, written, "OwnerId")
	assert.Nil(t, written["OwnerId"])
	assert.NotContains(t, written["Category__r"], "attributes")
	assert.Equal(t, []string{"before-run ", "before-object Gadget__c", "after-run "}, hooks.calls)
}

func TestOrchestrator_ExportRequiresQuery(t *testing.T) {
	o := &Orchestrator{Config: orchestratorConfig(t.TempDir()), Remote: &fakeRemote{}, Registry: (&hookLog{}).registry()}
	_, err := o.Export(context.Background(), Selector{Object: "Widget__c"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConfig))
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	datadir := t.TempDir()
	stage(t, filepath.Join(datadir, "gadgets"), "Legacy_Id__c", gadgets(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := &Orchestrator{Config: orchestratorConfig(datadir), Remote: &fakeRemote{}, Registry: (&hookLog{}).registry()}
	_, err := o.Import(ctx, Selector{All: true}, false)
	require.ErrorIs(t, err, context.Canceled)
}
