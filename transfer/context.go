package transfer

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transferer sends one payload to the remote import endpoint.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) ([]RecordResult, error)
}

// Querier streams the records matching a query to fn.
// It returns the total number of matching records reported by the remote.
type Querier interface {
	Query(ctx context.Context, query string, fn func(Record) error) (int, error)
}

// Remote is the remote data service.
type Remote interface {
	Transferer
	Querier
}

// Services gives hooks access to the engine's own collaborators, so a hook can
// read staged records or call the remote itself.
type Services struct {
	Store  *RecordStore
	Remote Remote
}

// RunContext is created once per invocation and passed through the whole run.
// Config and Objects must not be modified; State is the only mutable part.
type RunContext struct {
	RunID     uuid.UUID
	Direction Direction
	Config    Config
	Objects   []string
	State     *State
	Services  Services
	Logger    *zap.Logger
}

func NewRunContext(direction Direction, cfg Config, objects []string, services Services, logger *zap.Logger) *RunContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New()
	return &RunContext{
		RunID:     id,
		Direction: direction,
		Config:    cfg,
		Objects:   objects,
		State:     NewState(),
		Services:  services,
		Logger:    logger.With(zap.String("run", id.String()), zap.String("direction", string(direction))),
	}
}

// HookContext is what a handler receives: the run context plus the additions of
// the current point. It serializes to the JSON passed to external hooks.
type HookContext struct {
	Run        *RunContext       `json:"-"`
	RunID      string            `json:"runId"`
	Direction  Direction         `json:"direction"`
	Point      HookPoint         `json:"point"`
	Objects    []string          `json:"sObjects"`
	ObjectType string            `json:"sObject,omitempty"`
	Object     *ObjectConfig     `json:"config,omitempty"`
	Records    []Record          `json:"records,omitempty"`
	Outcome    *TransferOutcome  `json:"result,omitempty"`
	Export     *ExportResult     `json:"exportResult,omitempty"`
	Outcomes   []TransferOutcome `json:"allImportResults,omitempty"`
	Exports    []ExportResult    `json:"allExportResults,omitempty"`
	State      *State            `json:"state,omitempty"`
}

// HookContext returns the context for a hook at point. objecttype is empty for
// run level points.
func (rc *RunContext) HookContext(point HookPoint, objecttype string) *HookContext {
	result := &HookContext{
		Run:        rc,
		RunID:      rc.RunID.String(),
		Direction:  rc.Direction,
		Point:      point,
		Objects:    rc.Objects,
		ObjectType: objecttype,
		State:      rc.State,
	}
	if o, exists := rc.Config.Object(objecttype); exists {
		result.Object = &o
	}
	return result
}
