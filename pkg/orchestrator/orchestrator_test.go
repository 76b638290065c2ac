package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/graph"
	"github.com/burrowdev/burrow/pkg/provider"
)

type recordedProvider struct {
	service   string
	startErr  error
	healthErr error
	wired     bool
	resets    int
	trace     *[]string
}

func (p *recordedProvider) Service() string { return p.service }

func (p *recordedProvider) Start(ctx context.Context) error {
	*p.trace = append(*p.trace, "start:"+p.service)
	return p.startErr
}

func (p *recordedProvider) Stop(ctx context.Context) error {
	*p.trace = append(*p.trace, "stop:"+p.service)
	return nil
}

func (p *recordedProvider) Healthy(ctx context.Context) error { return p.healthErr }

func (p *recordedProvider) PostWire(reg *provider.Registry) error {
	p.wired = true
	return nil
}

func (p *recordedProvider) Reset(ctx context.Context) error {
	p.resets++
	return nil
}

func newOrchestrator(t *testing.T, trace *[]string, providers ...*recordedProvider) *Orchestrator {
	t.Helper()
	o := New(provider.NewRegistry(), nil)
	for _, p := range providers {
		p.trace = trace
		require.NoError(t, o.Register(p))
	}
	return o
}

func TestStartAllStopAllOrder(t *testing.T) {
	var trace []string
	a := &recordedProvider{service: "dynamodb"}
	b := &recordedProvider{service: "lambda"}
	c := &recordedProvider{service: "sqs"}
	o := newOrchestrator(t, &trace, a, b, c)

	require.NoError(t, o.StartAll(context.Background()))
	assert.Equal(t, []string{"start:dynamodb", "start:lambda", "start:sqs"}, trace)
	assert.True(t, a.wired, "post-wire must run after start")

	trace = nil
	o.StopAll(context.Background())
	assert.Equal(t, []string{"stop:sqs", "stop:lambda", "stop:dynamodb"}, trace)
}

func TestStartAllFailFastUnwinds(t *testing.T) {
	var trace []string
	a := &recordedProvider{service: "dynamodb"}
	b := &recordedProvider{service: "lambda", startErr: errors.New("no runtime")}
	o := newOrchestrator(t, &trace, a, b)

	err := o.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lambda")

	// dynamodb started, then was stopped when lambda failed; lambda never
	// gets a stop because its start never succeeded
	assert.Equal(t, []string{"start:dynamodb", "start:lambda", "stop:dynamodb"}, trace)
	assert.False(t, a.wired, "post-wire must not run after a failed start")
}

func TestStartOrderFollowsGraph(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(&graph.Node{ID: "fn/f", Kind: graph.KindFunction}))
	require.NoError(t, g.AddNode(&graph.Node{ID: "table/t", Kind: graph.KindTable}))
	require.NoError(t, g.AddEdge(graph.Edge{Source: "fn/f", Target: "table/t", Kind: graph.EdgeDataDep}))

	var trace []string
	compute := &recordedProvider{service: provider.ServiceCompute, trace: &trace}
	doc := &recordedProvider{service: provider.ServiceDocStore, trace: &trace}

	o := New(provider.NewRegistry(), g)
	// register compute first to prove the graph, not registration order, wins
	require.NoError(t, o.Register(compute))
	require.NoError(t, o.Register(doc))

	require.NoError(t, o.StartAll(context.Background()))
	assert.Equal(t, []string{"start:dynamodb", "start:lambda"}, trace)
	o.StopAll(context.Background())
}

func TestHealthAggregation(t *testing.T) {
	var trace []string
	a := &recordedProvider{service: "s3"}
	b := &recordedProvider{service: "sqs", healthErr: errors.New("store closed")}
	o := newOrchestrator(t, &trace, a, b)

	reports := o.Health(context.Background())
	require.Len(t, reports, 2)

	byService := make(map[string]error)
	for _, r := range reports {
		byService[r.Service] = r.Err
	}
	assert.NoError(t, byService["s3"])
	assert.Error(t, byService["sqs"])
}

func TestReset(t *testing.T) {
	var trace []string
	a := &recordedProvider{service: "s3"}
	o := newOrchestrator(t, &trace, a)

	require.NoError(t, o.Reset(context.Background()))
	require.NoError(t, o.Reset(context.Background()))
	assert.Equal(t, 2, a.resets)
}
