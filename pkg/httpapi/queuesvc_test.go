package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/queue"
)

func newQueueServer(t *testing.T) (*httptest.Server, *queue.Provider) {
	t.Helper()
	p := queue.NewProvider([]config.QueueDef{{Name: "jobs"}}, provider.NewRegistry())
	require.NoError(t, p.Start(context.Background()))

	table := NewTable()
	BindQueue(table, p, "http://localhost/sqs")
	srv := httptest.NewServer(TypedJSONHandler(table, provider.ServiceQueue))
	t.Cleanup(srv.Close)
	return srv, p
}

func queueCall(t *testing.T, srv *httptest.Server, action, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Amz-Target", "AmazonSQS."+action)
	req.Header.Set("Content-Type", typedJSONContentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestQueueSendReceiveDelete(t *testing.T) {
	srv, p := newQueueServer(t)

	resp, out := queueCall(t, srv, "SendMessage", `{
		"QueueUrl": "http://localhost/sqs/jobs",
		"MessageBody": "work",
		"MessageAttributes": {"kind": {"DataType": "String", "StringValue": "resize"}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, out["MessageId"])

	resp, out = queueCall(t, srv, "ReceiveMessage", `{
		"QueueUrl": "http://localhost/sqs/jobs",
		"MaxNumberOfMessages": 10
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []struct {
		MessageId         string
		ReceiptHandle     string
		Body              string
		Attributes        map[string]string
		MessageAttributes map[string]messageAttribute
	}
	require.NoError(t, json.Unmarshal(out["Messages"], &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "work", msgs[0].Body)
	assert.Equal(t, "1", msgs[0].Attributes["ApproximateReceiveCount"])
	assert.Equal(t, "resize", msgs[0].MessageAttributes["kind"].StringValue)

	resp, _ = queueCall(t, srv, "DeleteMessage", `{
		"QueueUrl": "http://localhost/sqs/jobs",
		"ReceiptHandle": "`+msgs[0].ReceiptHandle+`"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q, err := p.Queue("jobs")
	require.NoError(t, err)
	assert.Equal(t, 0, q.Depth())
}

func TestQueueURLHelpers(t *testing.T) {
	srv, _ := newQueueServer(t)

	resp, out := queueCall(t, srv, "GetQueueUrl", `{"QueueName": "jobs"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"http://localhost/sqs/jobs"`, string(out["QueueUrl"]))

	resp, out = queueCall(t, srv, "ListQueues", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var urls []string
	require.NoError(t, json.Unmarshal(out["QueueUrls"], &urls))
	assert.Equal(t, []string{"http://localhost/sqs/jobs"}, urls)
}

func TestQueueNotFoundCode(t *testing.T) {
	srv, _ := newQueueServer(t)

	resp, out := queueCall(t, srv, "SendMessage", `{"QueueUrl": "http://localhost/sqs/ghost", "MessageBody": "x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, `"QueueDoesNotExist"`, string(out["__type"]))
}

func TestQueuePurge(t *testing.T) {
	srv, p := newQueueServer(t)

	for i := 0; i < 3; i++ {
		queueCall(t, srv, "SendMessage", `{"QueueUrl": "jobs", "MessageBody": "x"}`)
	}
	q, err := p.Queue("jobs")
	require.NoError(t, err)
	require.Equal(t, 3, q.Depth())

	resp, _ := queueCall(t, srv, "PurgeQueue", `{"QueueUrl": "jobs"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, q.Depth())
}

// The same handlers serve the form dialect; only decode/encode differ.
func TestQueueFormDialect(t *testing.T) {
	p := queue.NewProvider([]config.QueueDef{{Name: "jobs"}}, provider.NewRegistry())
	require.NoError(t, p.Start(context.Background()))

	table := NewTable()
	BindQueue(table, p, "http://localhost/sqs")
	srv := httptest.NewServer(FormHandler(table, provider.ServiceQueue))
	defer srv.Close()

	form := url.Values{
		"Action":       {"SendMessage"},
		"QueueUrl":     {"http://localhost/sqs/jobs"},
		"MessageBody":  {"via form"},
		"DelaySeconds": {"0"},
	}
	resp, err := http.Post(srv.URL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "<SendMessageResponse>")
	assert.Contains(t, string(body), "<MessageId>")

	q, err := p.Queue("jobs")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Depth())
}
