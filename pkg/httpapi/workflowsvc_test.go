package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/workflow"
)

const passMachine = `{
	"StartAt": "Tag",
	"States": {
		"Tag": {
			"Type": "Pass",
			"Result": {"tagged": true},
			"ResultPath": "$.meta",
			"End": true
		}
	}
}`

func newWorkflowServer(t *testing.T) *httptest.Server {
	t.Helper()
	p := workflow.NewProvider([]config.StateMachineDef{
		{Name: "tagger", Type: "express", Definition: passMachine},
	}, "", provider.NewRegistry())
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	table := NewTable()
	BindWorkflow(table, p)
	srv := httptest.NewServer(TypedJSONHandler(table, provider.ServiceWorkflow))
	t.Cleanup(srv.Close)
	return srv
}

func workflowCall(t *testing.T, srv *httptest.Server, action, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Amz-Target", "AWSStepFunctions."+action)
	req.Header.Set("Content-Type", typedJSONContentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestWorkflowStartAndDescribe(t *testing.T) {
	srv := newWorkflowServer(t)

	resp, out := workflowCall(t, srv, "StartExecution", `{
		"stateMachineArn": "tagger",
		"name": "run-1",
		"input": {"order": 7}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var arn string
	require.NoError(t, json.Unmarshal(out["executionArn"], &arn))
	assert.Contains(t, arn, ":execution:tagger:run-1")

	resp, out = workflowCall(t, srv, "DescribeExecution", `{"executionArn": "`+arn+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"SUCCEEDED"`, string(out["status"]))

	var output map[string]any
	require.NoError(t, json.Unmarshal(out["output"], &output))
	assert.Equal(t, map[string]any{"tagged": true}, output["meta"])
}

func TestWorkflowHistoryAndList(t *testing.T) {
	srv := newWorkflowServer(t)

	_, out := workflowCall(t, srv, "StartExecution", `{"stateMachineArn": "tagger", "name": "run-h", "input": {}}`)
	var arn string
	require.NoError(t, json.Unmarshal(out["executionArn"], &arn))

	resp, out := workflowCall(t, srv, "GetExecutionHistory", `{"executionArn": "`+arn+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []workflow.HistoryEvent
	require.NoError(t, json.Unmarshal(out["events"], &events))
	require.NotEmpty(t, events)
	assert.Equal(t, "Tag", events[0].State)

	resp, out = workflowCall(t, srv, "ListExecutions", `{"stateMachineArn": "tagger"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var execs []workflow.Execution
	require.NoError(t, json.Unmarshal(out["executions"], &execs))
	assert.Len(t, execs, 1)

	resp, out = workflowCall(t, srv, "ListStateMachines", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(out["stateMachines"]), "tagger")
}

func TestWorkflowErrorCodes(t *testing.T) {
	srv := newWorkflowServer(t)

	t.Run("unknown machine", func(t *testing.T) {
		resp, out := workflowCall(t, srv, "StartExecution", `{"stateMachineArn": "ghost"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, `"StateMachineDoesNotExist"`, string(out["__type"]))
	})

	t.Run("unknown execution", func(t *testing.T) {
		resp, out := workflowCall(t, srv, "DescribeExecution", `{"executionArn": "nope"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, `"ExecutionDoesNotExist"`, string(out["__type"]))
	})

	t.Run("duplicate name", func(t *testing.T) {
		workflowCall(t, srv, "StartExecution", `{"stateMachineArn": "tagger", "name": "dup", "input": {}}`)
		resp, out := workflowCall(t, srv, "StartExecution", `{"stateMachineArn": "tagger", "name": "dup", "input": {}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, `"ExecutionAlreadyExists"`, string(out["__type"]))
	})
}
