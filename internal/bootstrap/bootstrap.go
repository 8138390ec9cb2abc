// Package bootstrap wires every manager, the session, and one
// transport Server per capability into a runnable runtime.Runtime.
// Grounded on the teacher's cmd/main.go ("create kernel with all
// subsystems (nil config uses defaults)"), generalized from a single
// hardcoded kernel to the framework's config-driven manager chain:
// sources open, then engines open against them, then capabilities
// build their pipelines, matching lifecycle's phase ordering.
package bootstrap

import (
	"context"
	"os"

	"github.com/halimchaibi/cheshire-core/internal/capability"
	"github.com/halimchaibi/cheshire-core/internal/capability/steps"
	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/discovery"
	"github.com/halimchaibi/cheshire-core/internal/dispatch"
	"github.com/halimchaibi/cheshire-core/internal/engines"
	"github.com/halimchaibi/cheshire-core/internal/engines/sqlengine"
	"github.com/halimchaibi/cheshire-core/internal/eventbus"
	"github.com/halimchaibi/cheshire-core/internal/health"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/ratelimit"
	"github.com/halimchaibi/cheshire-core/internal/runtime"
	"github.com/halimchaibi/cheshire-core/internal/session"
	"github.com/halimchaibi/cheshire-core/internal/sources"
	"github.com/halimchaibi/cheshire-core/internal/sources/sqlsource"
	"github.com/halimchaibi/cheshire-core/internal/specconfig"
	"github.com/halimchaibi/cheshire-core/internal/transport/httpjson"
	"github.com/halimchaibi/cheshire-core/internal/transport/jsonrpc"
	"github.com/halimchaibi/cheshire-core/internal/transport/stdio"
	"github.com/halimchaibi/cheshire-core/internal/transport/streaming"
)

// Reference factory implementation IDs registered by Build. A
// deployment with additional source/engine/step implementations
// would register them into the same discovery.Registry before its
// config references them.
const (
	FactorySQLSource = "sqlsource"
	FactorySQLEngine = "sqlengine"
)

// App holds every long-lived component Build assembles, so main can
// start/await/stop it without reaching back into the wiring.
type App struct {
	SpecManager  *specconfig.Manager
	Discovery    *discovery.Registry
	Sources      *sources.Manager
	Engines      *engines.Manager
	Capabilities *capability.Manager
	Session      *session.Session
	Runtime      *runtime.Runtime
	Bus          *eventbus.Bus
}

// Build loads spec from source, registers the reference plug-ins,
// opens every source and engine, builds every capability's pipelines,
// and exposes one transport Server per capability into a Runtime. The
// returned App is ready for Session.Start and Runtime.Start.
func Build(ctx context.Context, source specconfig.ConfigSource, logger logging.Logger) (*App, error) {
	spec, err := specconfig.Load(source)
	if err != nil {
		return nil, err
	}
	specMgr := specconfig.NewManager(spec)

	disc := discovery.New()
	if err := steps.Register(disc); err != nil {
		return nil, err
	}
	if err := disc.RegisterSourceProvider(FactorySQLSource, sqlsource.Factory()); err != nil {
		return nil, err
	}

	sourceMgr := sources.NewManager(disc, logger)
	if err := sourceMgr.Init(ctx, spec.Sources); err != nil {
		return nil, err
	}

	if err := disc.RegisterQueryEngine(FactorySQLEngine, sqlengine.Factory(sourceMgr.All)); err != nil {
		return nil, err
	}

	engineMgr := engines.NewManager(disc, sourceMgr, logger)
	if err := engineMgr.Init(ctx, spec.Engines); err != nil {
		return nil, err
	}

	capMgr := capability.NewManager(disc, sourceMgr, engineMgr, logger)
	if err := capMgr.Init(spec.Capabilities, spec.Exposures, spec.Transports); err != nil {
		return nil, err
	}

	bindings := &engineBinding{capabilities: capMgr, engines: engineMgr, sources: sourceMgr}
	metrics := health.NewMetrics()
	sess := session.New(capMgr, bindings, metrics, logger)
	sess.AddStopHook(sourceMgr.Shutdown)
	sess.AddStopHook(engineMgr.Shutdown)

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	bus := eventbus.New(logger)
	rt := runtime.New(sess, bus, logger)

	for _, name := range capMgr.Names() {
		capVal, err := capMgr.Get(name)
		if err != nil {
			return nil, err
		}
		server, err := buildServer(capVal, sess, limiter, logger)
		if err != nil {
			return nil, err
		}
		rt.Expose(server)
	}

	return &App{
		SpecManager:  specMgr,
		Discovery:    disc,
		Sources:      sourceMgr,
		Engines:      engineMgr,
		Capabilities: capMgr,
		Session:      sess,
		Runtime:      rt,
		Bus:          bus,
	}, nil
}

// buildServer resolves capVal's exposure binding to a transport kind
// and constructs the matching Server, sharing one dispatch.Core per
// capability so the rate limiter and tracer are consistently applied
// regardless of which transport it is exposed over.
func buildServer(capVal *capability.Capability, executor dispatch.Executor, limiter *ratelimit.Limiter, logger logging.Logger) (runtime.Server, error) {
	kind, err := dispatch.ParseKind(capVal.Exposure.Binding)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "capability="+capVal.Name, err)
	}
	core := dispatch.NewCore(executor, limiter, logger)
	addr, _ := capVal.Transport.Options["addr"].(string)

	switch kind {
	case dispatch.KindHTTPJSON:
		return httpjson.New(capVal.Name, addr, dispatch.NewHTTPJSONDispatcher(core), logger), nil
	case dispatch.KindJSONRPC:
		return jsonrpc.New(capVal.Name, addr, dispatch.NewJSONRPCDispatcher(core), logger), nil
	case dispatch.KindStreaming:
		return streaming.New(capVal.Name, addr, dispatch.NewStreamingDispatcher(core), logger), nil
	case dispatch.KindStdio:
		return stdio.New(capVal.Name, os.Stdin, os.Stdout, dispatch.NewStdioDispatcher(core), logger), nil
	default:
		return nil, cherr.New(cherr.KindConfiguration, "capability %q: unsupported transport binding %q", capVal.Name, kind)
	}
}

// engineBinding bridges the capability/engine/source managers into the
// narrow session.EngineBinding contract, so session never imports any
// of the three concrete manager types.
type engineBinding struct {
	capabilities *capability.Manager
	engines      *engines.Manager
	sources      *sources.Manager
}

func (b *engineBinding) Engine(capabilityName string) (any, error) {
	capVal, err := b.capabilities.Get(capabilityName)
	if err != nil {
		return nil, err
	}
	if capVal.EngineRef == "" {
		return nil, cherr.New(cherr.KindConfiguration, "capability %q has no bound engine", capabilityName)
	}
	return b.engines.Get(capVal.EngineRef)
}

func (b *engineBinding) Sources(capabilityName string) (map[string]any, error) {
	capVal, err := b.capabilities.Get(capabilityName)
	if err != nil {
		return nil, err
	}
	resolved, err := b.sources.All(capVal.SourceRefs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(resolved))
	for name, src := range resolved {
		out[name] = src
	}
	return out, nil
}
