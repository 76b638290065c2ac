package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/provider"
)

func TestProviderStartRegistersMachines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.asl.json"), []byte(pipelineDoc), 0o644))

	reg := provider.NewRegistry()
	p := NewProvider([]config.StateMachineDef{
		{Name: "inline", Type: "express", Definition: `{"StartAt": "P", "States": {"P": {"Type": "Pass", "End": true}}}`},
		{Name: "from-file", DefinitionFile: "pipeline.asl.json"},
	}, dir, reg)

	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	attrs, ok := reg.Resource(provider.ResourceKey{Service: "states", Name: "inline"})
	require.True(t, ok)
	assert.Contains(t, attrs.ID, "stateMachine:inline")

	m, err := p.Executor().Machine("from-file")
	require.NoError(t, err)
	assert.Equal(t, TypeStandard, m.Type)
}

func TestProviderStartErrors(t *testing.T) {
	reg := provider.NewRegistry()

	p := NewProvider([]config.StateMachineDef{{Name: "empty"}}, "", reg)
	assert.Error(t, p.Start(context.Background()))

	p = NewProvider([]config.StateMachineDef{{Name: "missing", DefinitionFile: "nope.json"}}, t.TempDir(), reg)
	assert.Error(t, p.Start(context.Background()))

	p = NewProvider([]config.StateMachineDef{{Name: "bad", Definition: `{"StartAt": "X"}`}}, "", reg)
	assert.Error(t, p.Start(context.Background()))
}

func TestExpressMachineRunsSynchronously(t *testing.T) {
	p := NewProvider([]config.StateMachineDef{{
		Name: "quick",
		Type: "express",
		Definition: `{
			"StartAt": "Shape",
			"States": {"Shape": {"Type": "Pass", "Parameters": {"wrapped.$": "$.v"}, "End": true}}
		}`,
	}}, "", provider.NewRegistry())
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	snap, err := p.StartExecution(context.Background(), "quick", "", json.RawMessage(`{"v": 7}`))
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, snap.Status)
	assert.JSONEq(t, `{"wrapped": 7}`, string(snap.Output))
}

func TestBridgeMapsHandlerErrors(t *testing.T) {
	err := handlerError([]byte(`{"errorType": "OrderMissing", "errorMessage": "no such order"}`), "Unhandled")
	assert.Equal(t, "OrderMissing", err.Code)
	assert.Equal(t, "no such order", err.Cause)

	err = handlerError([]byte(`not json`), "Unhandled")
	assert.Equal(t, ErrTaskFailed, err.Code)
	assert.Equal(t, "Unhandled", err.Cause)
}
