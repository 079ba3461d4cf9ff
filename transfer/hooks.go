package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/iancoleman/strcase"
	"go.uber.org/zap"
)

// Direction is the direction of a run.
type Direction string

const (
	Import Direction = "import"
	Export Direction = "export"
)

// HookPoint is a point in the run lifecycle where handlers are invoked.
type HookPoint int

const (
	BeforeRun HookPoint = iota
	BeforeObject
	AfterObject
	AfterRun
)

// HookPoints lists every point in invocation order.
var HookPoints = []HookPoint{BeforeRun, BeforeObject, AfterObject, AfterRun}

var hookPointNames = map[HookPoint]string{
	BeforeRun:    "BeforeRun",
	BeforeObject: "BeforeObject",
	AfterObject:  "AfterObject",
	AfterRun:     "AfterRun",
}

// String returns the kebab case name of the point, e.g. "before-object".
func (p HookPoint) String() string {
	name, exists := hookPointNames[p]
	if !exists {
		return fmt.Sprintf("hook-point-%d", int(p))
	}
	return strcase.ToKebab(name)
}

func (p HookPoint) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// RunLevel reports whether the point fires once per run rather than once per object type.
func (p HookPoint) RunLevel() bool {
	return p == BeforeRun || p == AfterRun
}

// Handler is an extension point implementation.
// A non-nil result is recorded in the run state.
type Handler interface {
	Handle(ctx context.Context, hc *HookContext) (interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, hc *HookContext) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, hc *HookContext) (interface{}, error) {
	return f(ctx, hc)
}

// HandlerLoader binds a configured hook path that has no registered handler.
type HandlerLoader interface {
	Load(path string) (Handler, error)
}

// HookRegistry maps configured hook paths to handlers.
type HookRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a hook path, replacing any earlier binding.
func (r *HookRegistry) Register(path string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[path] = h
}

// Lookup returns the handler bound to path.
func (r *HookRegistry) Lookup(path string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, exists := r.handlers[path]
	return h, exists
}

// Bind makes sure every path has a handler, loading the missing ones with loader.
// A path that cannot be bound is a configuration error.
func (r *HookRegistry) Bind(paths []string, loader HandlerLoader) error {
	for _, path := range paths {
		if _, exists := r.Lookup(path); exists {
			continue
		}
		if loader == nil {
			return ConfigError("no handler registered for hook %s", path)
		}
		h, err := loader.Load(path)
		if err != nil {
			return newError(KindConfig, "", err, "failed to load hook %s", path)
		}
		r.Register(path, h)
	}
	return nil
}

// hookTable holds the bound hooks of each point.
type hookTable [AfterRun + 1][]boundHook

type boundHook struct {
	path    string
	handler Handler
}

// HookPipeline runs the handlers configured for one direction. Handlers are
// resolved when the pipeline is built, so a run never starts with an unbound hook.
type HookPipeline struct {
	direction Direction
	global    hookTable
	objects   map[string]hookTable
	logger    *zap.Logger
}

// NewHookPipeline resolves the hooks configured for direction. Global hooks run
// first at every point, followed by the object's own hook at object level points
// (see ScriptsConfig.ObjectPath).
func NewHookPipeline(direction Direction, cfg Config, registry *HookRegistry, loader HandlerLoader, logger *zap.Logger) (*HookPipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewHookRegistry()
	}
	result := &HookPipeline{
		direction: direction,
		objects:   make(map[string]hookTable),
		logger:    logger,
	}

	bind := func(path string, basedir string) ([]boundHook, error) {
		if path == "" {
			return nil, nil
		}
		if err := registry.Bind([]string{path}, loaderFor(loader, basedir, cfg.Scripts.BaseDir)); err != nil {
			return nil, err
		}
		h, _ := registry.Lookup(path)
		return []boundHook{{path: path, handler: h}}, nil
	}

	for _, point := range HookPoints {
		hooks, err := bind(cfg.Scripts.Path(direction, point), cfg.Scripts.BaseDir)
		if err != nil {
			return nil, err
		}
		result.global[point] = hooks
	}
	for name, o := range cfg.Objects {
		var points hookTable
		for _, point := range HookPoints {
			if point.RunLevel() {
				continue
			}
			path, err := o.Scripts.ObjectPath(direction, point)
			if err != nil {
				return nil, newError(KindConfig, name, err, "invalid object scripts")
			}
			hooks, err := bind(path, o.Scripts.BaseDir)
			if err != nil {
				return nil, err
			}
			points[point] = hooks
		}
		result.objects[name] = points
	}
	return result, nil
}

// loaderFor returns loader with the object's base dir applied when it supports one.
func loaderFor(loader HandlerLoader, basedirs ...string) HandlerLoader {
	e, ok := loader.(ExecLoader)
	if !ok {
		return loader
	}
	for _, dir := range basedirs {
		if dir != "" {
			e.BaseDir = dir
			break
		}
	}
	return e
}

// Hooks returns the paths that run at point for objecttype in execution order.
func (p *HookPipeline) Hooks(point HookPoint, objecttype string) []string {
	var result []string
	for _, h := range p.hooks(point, objecttype) {
		result = append(result, h.path)
	}
	return result
}

func (p *HookPipeline) hooks(point HookPoint, objecttype string) []boundHook {
	result := append([]boundHook(nil), p.global[point]...)
	if !point.RunLevel() && objecttype != "" {
		result = append(result, p.objects[objecttype][point]...)
	}
	return result
}

// Run invokes the handlers for hc.Point sequentially. The first handler error
// stops the pipeline and is returned as a hook error.
func (p *HookPipeline) Run(ctx context.Context, hc *HookContext) error {
	for _, h := range p.hooks(hc.Point, hc.ObjectType) {
		logger := p.logger.With(zap.String("hook", h.path), zap.Stringer("point", hc.Point))
		if hc.ObjectType != "" {
			logger = logger.With(zap.String("object", hc.ObjectType))
		}
		logger.Debug("running hook")
		result, err := h.handler.Handle(ctx, hc)
		if err != nil {
			return newError(KindHook, hc.ObjectType, err, "%s %s hook %s failed", p.direction, hc.Point, h.path)
		}
		if result == nil || hc.Run == nil || hc.Run.State == nil {
			continue
		}
		if err = hc.Run.State.Append(hookStatePath(hc.Point, hc.ObjectType), result); err != nil {
			return newError(KindHook, hc.ObjectType, err, "failed to record result of hook %s", h.path)
		}
	}
	return nil
}

// RunStateObject is the state namespace used by run level hooks.
const RunStateObject = "_run"

// hookStatePath returns the state path under which hook results are appended.
func hookStatePath(point HookPoint, objecttype string) string {
	if point.RunLevel() || objecttype == "" {
		objecttype = RunStateObject
	}
	return fmt.Sprintf("hooks.%s.%s", StatePathEscape(objecttype), point)
}

// HookResults returns the recorded results of the hooks that ran at point, in order.
func HookResults(state *State, point HookPoint, objecttype string) []json.RawMessage {
	var result []json.RawMessage
	for _, r := range state.Get(hookStatePath(point, objecttype)).Array() {
		result = append(result, json.RawMessage(r.Raw))
	}
	return result
}
