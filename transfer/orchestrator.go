package transfer

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// Orchestrator drives export and import runs over the configured object types.
// Object types are always processed one after another in the resolved order.
type Orchestrator struct {
	Config   Config
	Store    *RecordStore
	Remote   Remote
	Registry *HookRegistry
	Loader   HandlerLoader
	Logger   *zap.Logger
	Metrics  *Metrics
	// Out receives a summary line per object type when set.
	Out io.Writer
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) store() *RecordStore {
	if o.Store == nil {
		o.Store = NewRecordStore(o.Config.DataDir, o.logger())
	}
	return o.Store
}

// prepare resolves the object list and binds the hooks of a run.
func (o *Orchestrator) prepare(direction Direction, selector Selector, reverse bool) (*RunContext, *HookPipeline, error) {
	objects, err := o.Config.ObjectsToProcess(selector, reverse)
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := NewHookPipeline(direction, o.Config, o.Registry, o.Loader, o.logger())
	if err != nil {
		return nil, nil, err
	}
	rc := NewRunContext(direction, o.Config, objects, Services{Store: o.store(), Remote: o.Remote}, o.logger())
	return rc, pipeline, nil
}

// Import pushes the staged records of the selected object types. With remove set
// the records are deleted instead, in reverse order. The outcomes gathered before
// a fatal error are returned alongside it.
func (o *Orchestrator) Import(ctx context.Context, selector Selector, remove bool) ([]TransferOutcome, error) {
	rc, pipeline, err := o.prepare(Import, selector, remove)
	if err != nil {
		return nil, err
	}
	operation := Upsert
	if remove {
		operation = Delete
	}
	logger := rc.Logger
	logger.Info("starting import", zap.Strings("objects", rc.Objects), zap.String("operation", string(operation)))

	if err = pipeline.Run(ctx, rc.HookContext(BeforeRun, "")); err != nil {
		return nil, err
	}

	var outcomes []TransferOutcome
	for _, name := range rc.Objects {
		if err = ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, records, err := o.importObject(ctx, rc, pipeline, name, operation)
		if err != nil {
			var exhausted *ExhaustedError
			if errors.As(err, &exhausted) {
				outcomes = append(outcomes, exhausted.Outcome)
			}
			return outcomes, err
		}

		hc := rc.HookContext(AfterObject, name)
		hc.Records = records
		hc.Outcome = &outcome
		if err = pipeline.Run(ctx, hc); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}

	hc := rc.HookContext(AfterRun, "")
	hc.Outcomes = outcomes
	if err = pipeline.Run(ctx, hc); err != nil {
		return outcomes, err
	}
	logger.Info("import finished", zap.Int("objects", len(outcomes)))
	return outcomes, nil
}

// importObject runs the before-object hook and the retry loop of one object type.
// It returns the records sent by the last attempt.
func (o *Orchestrator) importObject(ctx context.Context, rc *RunContext, pipeline *HookPipeline, name string, operation Operation) (TransferOutcome, []Record, error) {
	cfg, _ := rc.Config.Object(name)
	logger := rc.Logger.With(zap.String("object", name))

	if err := pipeline.Run(ctx, rc.HookContext(BeforeObject, name)); err != nil {
		return TransferOutcome{}, nil, err
	}

	resolver := ReferenceResolver{Querier: o.Remote, Logger: logger}
	executor := TransferExecutor{Remote: o.Remote, Logger: logger, Metrics: o.Metrics}
	budget := rc.Config.Budget(name)
	var last []Record

	coordinator := RetryCoordinator{
		MaxRetries:       rc.Config.ImportRetries,
		TolerateFailures: rc.Config.TolerateFailures,
		Delay:            rc.Config.RetryDelay,
		Logger:           logger,
		Metrics:          o.Metrics,
	}
	outcome, err := coordinator.Run(ctx, name, func(ctx context.Context, attempt int) (TransferOutcome, error) {
		records, err := rc.Services.Store.Read(name, cfg)
		if err != nil {
			return TransferOutcome{}, err
		}
		last = records
		if len(records) == 0 {
			logger.Info("no records to push")
			return TransferOutcome{}, nil
		}
		if err = resolver.ResolveAll(ctx, name, cfg, records); err != nil {
			return TransferOutcome{}, err
		}
		reqs, err := Split(name, operation, cfg.ExternalID, records, budget)
		if err != nil {
			return TransferOutcome{}, err
		}
		logger.Info("deploying records", zap.Int("attempt", attempt+1), zap.Int("records", len(records)), zap.Int("payloads", len(reqs)))
		results, err := executor.SendAll(ctx, reqs, cfg.EnableMultiThreading)
		if err != nil {
			return TransferOutcome{}, err
		}
		return NewTransferOutcome(name, len(reqs), results), nil
	})
	o.Metrics.observeOutcome(outcome)
	if o.Out != nil {
		if perr := PrintOutcome(o.Out, outcome); perr != nil {
			logger.Warn("failed to print outcome", zap.Error(perr))
		}
	}
	return outcome, last, err
}

// Export queries the selected object types and replaces their staged records.
func (o *Orchestrator) Export(ctx context.Context, selector Selector) ([]ExportResult, error) {
	rc, pipeline, err := o.prepare(Export, selector, false)
	if err != nil {
		return nil, err
	}
	logger := rc.Logger
	logger.Info("starting export", zap.Strings("objects", rc.Objects))

	if err = pipeline.Run(ctx, rc.HookContext(BeforeRun, "")); err != nil {
		return nil, err
	}

	var results []ExportResult
	for _, name := range rc.Objects {
		if err = ctx.Err(); err != nil {
			return results, err
		}
		if err = pipeline.Run(ctx, rc.HookContext(BeforeObject, name)); err != nil {
			return results, err
		}
		result, err := o.exportObject(ctx, rc, name)
		if err != nil {
			return results, err
		}

		hc := rc.HookContext(AfterObject, name)
		hc.Records = result.Records
		hc.Export = &result
		if err = pipeline.Run(ctx, hc); err != nil {
			return results, err
		}
		results = append(results, result)
	}

	hc := rc.HookContext(AfterRun, "")
	hc.Exports = results
	if err = pipeline.Run(ctx, hc); err != nil {
		return results, err
	}
	logger.Info("export finished", zap.Int("objects", len(results)))
	return results, nil
}

func (o *Orchestrator) exportObject(ctx context.Context, rc *RunContext, name string) (ExportResult, error) {
	cfg, _ := rc.Config.Object(name)
	logger := rc.Logger.With(zap.String("object", name))
	result := ExportResult{ObjectType: name}
	if cfg.Query == "" {
		return result, newError(KindConfig, name, nil, "object has no query")
	}

	total, err := o.Remote.Query(ctx, cfg.Query, func(r Record) error {
		CleanRecord(r, cfg.CleanupFields)
		result.Records = append(result.Records, r)
		return nil
	})
	if err != nil {
		return result, newError(KindTransport, name, err, "export query failed")
	}
	result.TotalSize = total
	logger.Info("queried records", zap.Int("totalInDatabase", total), zap.Int("totalFetched", len(result.Records)))

	if err = rc.Services.Store.Write(name, cfg, result.Records); err != nil {
		return result, err
	}
	o.Metrics.observeExport(name, len(result.Records))
	if o.Out != nil {
		if perr := PrintExport(o.Out, result); perr != nil {
			logger.Warn("failed to print export", zap.Error(perr))
		}
	}
	return result, nil
}
