package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TransferExecutor sends payloads to the remote import endpoint.
type TransferExecutor struct {
	Remote  Transferer
	Logger  *zap.Logger
	Metrics *Metrics
}

// Send performs one remote call.
func (e TransferExecutor) Send(ctx context.Context, req TransferRequest) ([]RecordResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(KindConfig, req.SObjectType, err, "invalid transfer request")
	}
	size, err := PayloadSize(req.Payload)
	if err != nil {
		return nil, newError(KindRead, req.SObjectType, err, "failed to serialize payload")
	}
	start := time.Now()
	results, err := e.Remote.Transfer(ctx, req)
	e.Metrics.observePayload(req.SObjectType, req.Operation, size, time.Since(start), err)
	if err != nil {
		if IsKind(err, KindTransport) {
			return nil, err
		}
		return nil, newError(KindTransport, req.SObjectType, err, "%s of %d records failed", req.Operation, req.ItemCount())
	}
	if e.Logger != nil {
		e.Logger.Debug("payload sent",
			zap.String("object", req.SObjectType),
			zap.Int("records", req.ItemCount()),
			zap.Int("bytes", size),
			zap.Int("results", len(results)))
	}
	return results, nil
}

// SendAll sends every request and returns their results flattened in request
// order. In parallel mode all requests are in flight at once and every error is
// returned joined; otherwise requests go one at a time and the first error stops.
func (e TransferExecutor) SendAll(ctx context.Context, reqs []TransferRequest, parallel bool) ([]RecordResult, error) {
	if !parallel {
		var result []RecordResult
		for _, req := range reqs {
			results, err := e.Send(ctx, req)
			if err != nil {
				return nil, err
			}
			result = append(result, results...)
		}
		return result, nil
	}

	var wg sync.WaitGroup
	results := make([][]RecordResult, len(reqs))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req TransferRequest) {
			defer wg.Done()
			results[i], errs[i] = e.Send(ctx, req)
		}(i, req)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	var result []RecordResult
	for _, r := range results {
		result = append(result, r...)
	}
	return result, nil
}
