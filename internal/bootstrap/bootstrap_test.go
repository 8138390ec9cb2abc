package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/capability"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/ratelimit"
	"github.com/halimchaibi/cheshire-core/internal/session"
	"github.com/halimchaibi/cheshire-core/internal/specconfig"
	"github.com/halimchaibi/cheshire-core/internal/transport/httpjson"
	"github.com/halimchaibi/cheshire-core/internal/transport/jsonrpc"
	"github.com/halimchaibi/cheshire-core/internal/transport/stdio"
	"github.com/halimchaibi/cheshire-core/internal/transport/streaming"
)

const rootDoc = `
sources: {}
engines: {}
transports:
  http:
    factoryId: http
  rpc:
    factoryId: rpc
  stream:
    factoryId: stream
  cli:
    factoryId: cli
exposures:
  http-exp:
    binding: HTTP_JSON
  rpc-exp:
    binding: JSONRPC
  stream-exp:
    binding: STREAMING
  cli-exp:
    binding: STDIO
capabilities:
  blog:
    exposureRef: http-exp
    transportRef: http
    actionsFile: blog-actions.yaml
    pipelinesFile: blog-pipelines.yaml
  search:
    exposureRef: rpc-exp
    transportRef: rpc
    actionsFile: blog-actions.yaml
    pipelinesFile: blog-pipelines.yaml
  feed:
    exposureRef: stream-exp
    transportRef: stream
    actionsFile: blog-actions.yaml
    pipelinesFile: blog-pipelines.yaml
  repl:
    exposureRef: cli-exp
    transportRef: cli
    actionsFile: blog-actions.yaml
    pipelinesFile: blog-pipelines.yaml
`

const actionsDoc = `
createPost:
  description: create a post
  pipeline: createPostPipeline
`

const pipelinesDoc = `
createPostPipeline:
  input: PostInput
  output: PostOutput
  steps:
    exec:
      name: echo
      implementationId: core.echo
`

func testSource() *specconfig.EmbedConfigSource {
	return specconfig.NewEmbedConfigSource(map[string][]byte{
		"cheshire.yaml":       []byte(rootDoc),
		"blog-actions.yaml":   []byte(actionsDoc),
		"blog-pipelines.yaml": []byte(pipelinesDoc),
	})
}

func TestBuildWiresOneServerPerCapabilityByBindingKind(t *testing.T) {
	app, err := Build(context.Background(), testSource(), logging.Noop())
	require.NoError(t, err)

	require.NoError(t, app.Session.Start())
	defer app.Session.Stop()

	names := app.Capabilities.Names()
	assert.Len(t, names, 4)
}

type fakeExecutor struct{}

func (fakeExecutor) Execute(ctx context.Context, task session.SessionTask, sctx session.SessionContext) canon.TaskResult {
	return canon.TaskSuccess(nil, nil)
}

func TestBuildServerSelectsTransportByBinding(t *testing.T) {
	logger := logging.Noop()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	exec := fakeExecutor{}

	cases := []struct {
		binding string
		want    any
	}{
		{"HTTP_JSON", &httpjson.Server{}},
		{"JSONRPC", &jsonrpc.Server{}},
		{"STREAMING", &streaming.Server{}},
		{"STDIO", &stdio.Server{}},
	}
	for _, tc := range cases {
		capVal := &capability.Capability{
			Name:     "cap-" + tc.binding,
			Exposure: specconfig.ExposureSpec{Binding: tc.binding},
		}
		server, err := buildServer(capVal, exec, limiter, logger)
		require.NoError(t, err)
		assert.IsType(t, tc.want, server)
		assert.Equal(t, capVal.Name, server.Capability())
	}
}

func TestBuildServerRejectsUnknownBinding(t *testing.T) {
	capVal := &capability.Capability{Name: "cap", Exposure: specconfig.ExposureSpec{Binding: "CARRIER_PIGEON"}}
	_, err := buildServer(capVal, fakeExecutor{}, nil, logging.Noop())
	require.Error(t, err)
}

func TestEngineBindingResolvesEngineAndSources(t *testing.T) {
	app, err := Build(context.Background(), testSource(), logging.Noop())
	require.NoError(t, err)

	bindings := &engineBinding{capabilities: app.Capabilities, engines: app.Engines, sources: app.Sources}

	_, err = bindings.Engine("blog")
	assert.Error(t, err, "capability has no bound engine, so resolution must fail, not panic")

	sourcesMap, err := bindings.Sources("blog")
	require.NoError(t, err)
	assert.Empty(t, sourcesMap)
}
