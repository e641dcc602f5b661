package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphorco/agenthub/internal/testutil"
)

// doRequest performs one JSON request against the test hub.
func doRequest(t *testing.T, th *testutil.TestHub, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, th.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type errEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Details struct {
		CurrentVersion int64 `json:"current_version"`
	} `json:"details"`
}

func decodeErr(t *testing.T, data []byte) errEnvelope {
	t.Helper()
	var e errEnvelope
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestHealthEndpoint(t *testing.T) {
	th := testutil.StartHub(t)

	resp, data := doRequest(t, th, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status          string `json:"status"`
		InstanceID      string `json:"instance_id"`
		DBID            string `json:"db_id"`
		SchemaVersion   int    `json:"schema_version"`
		ProtocolVersion int    `json:"protocol_version"`
		PID             int    `json:"pid"`
	}
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.SchemaVersion)
	assert.Equal(t, 1, health.ProtocolVersion)
	assert.NotZero(t, health.PID)
	assert.Equal(t, th.Hub.Descriptor.InstanceID, health.InstanceID)
	assert.Equal(t, th.Hub.Store.DBID(), health.DBID)
}

func TestAuthRequired(t *testing.T) {
	th := testutil.StartHub(t)

	resp, data := doRequest(t, th, http.MethodGet, "/api/v1/channels", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing-auth", decodeErr(t, data).Code)

	resp, data = doRequest(t, th, http.MethodGet, "/api/v1/channels", "wrong", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid-auth", decodeErr(t, data).Code)
}

func TestMalformedJSON(t *testing.T) {
	th := testutil.StartHub(t)

	resp, data := doRequest(t, th, http.MethodPost, "/api/v1/channels", th.Token, "{not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid-input", decodeErr(t, data).Code)
}

func TestWrongContentType(t *testing.T) {
	th := testutil.StartHub(t)

	req, err := http.NewRequest(http.MethodPost, th.URL+"/api/v1/channels", strings.NewReader("name=general"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+th.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestOversizedBody(t *testing.T) {
	th := testutil.StartHub(t)

	big := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`
	resp, _ := doRequest(t, th, http.MethodPost, "/api/v1/channels", th.Token, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestChannelAndTopicFlow(t *testing.T) {
	th := testutil.StartHub(t)

	resp, data := doRequest(t, th, http.MethodPost, "/api/v1/channels", th.Token, `{"name":"general"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var chRes struct {
		Channel struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channel"`
		EventID int64 `json:"event_id"`
	}
	require.NoError(t, json.Unmarshal(data, &chRes))
	assert.Equal(t, "general", chRes.Channel.Name)
	assert.Greater(t, chRes.EventID, int64(0))

	// Duplicate name rejected.
	resp, data = doRequest(t, th, http.MethodPost, "/api/v1/channels", th.Token, `{"name":"general"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid-input", decodeErr(t, data).Code)

	resp, _ = doRequest(t, th, http.MethodPost, "/api/v1/channels/"+chRes.Channel.ID+"/topics", th.Token, `{"title":"Intro"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, data = doRequest(t, th, http.MethodGet, "/api/v1/channels/"+chRes.Channel.ID+"/topics", th.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var topics struct {
		Topics []struct {
			Title string `json:"title"`
		} `json:"topics"`
	}
	require.NoError(t, json.Unmarshal(data, &topics))
	require.Len(t, topics.Topics, 1)
	assert.Equal(t, "Intro", topics.Topics[0].Title)
}

func TestNotFoundTaxonomy(t *testing.T) {
	th := testutil.StartHub(t)

	resp, data := doRequest(t, th, http.MethodPost, "/api/v1/topics/nope/messages", th.Token, `{"sender":"a","content":"hi"}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not-found", decodeErr(t, data).Code)
}

func TestVersionConflictTaxonomy(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)
	msg, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	resp, _ := doRequest(t, th, http.MethodPatch, "/api/v1/messages/"+msg.Message.ID, th.Token,
		`{"content":"x","expected_version":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := doRequest(t, th, http.MethodPatch, "/api/v1/messages/"+msg.Message.ID, th.Token,
		`{"content":"y","expected_version":1}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	env := decodeErr(t, data)
	assert.Equal(t, "version-conflict", env.Code)
	assert.Equal(t, int64(2), env.Details.CurrentVersion)
}

func TestCrossChannelMoveTaxonomy(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch1, err := st.CreateChannel(ctx, "one", "")
	require.NoError(t, err)
	ch2, err := st.CreateChannel(ctx, "two", "")
	require.NoError(t, err)
	ta, err := st.CreateTopic(ctx, ch1.Channel.ID, "A")
	require.NoError(t, err)
	tb, err := st.CreateTopic(ctx, ch2.Channel.ID, "B")
	require.NoError(t, err)
	msg, err := st.SendMessage(ctx, ta.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{"to_topic_id": tb.Topic.ID, "mode": "one"})
	resp, data := doRequest(t, th, http.MethodPost, "/api/v1/messages/"+msg.Message.ID+"/retopic", th.Token, string(body))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "cross-channel-move", decodeErr(t, data).Code)
}

func TestDeleteMessageEndpointIdempotent(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)
	msg, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	resp, data := doRequest(t, th, http.MethodDelete, "/api/v1/messages/"+msg.Message.ID, th.Token, `{"actor":"admin"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first struct {
		EventID *int64 `json:"event_id"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(data, &first))
	require.NotNil(t, first.EventID)
	assert.Equal(t, "[deleted]", first.Message.Content)

	resp, data = doRequest(t, th, http.MethodDelete, "/api/v1/messages/"+msg.Message.ID, th.Token, `{"actor":"other"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second struct {
		EventID *int64 `json:"event_id"`
	}
	require.NoError(t, json.Unmarshal(data, &second))
	assert.Nil(t, second.EventID)
}

func TestEventsEndpoint(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)
	_, err = st.SendMessage(ctx, tp.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	resp, data := doRequest(t, th, http.MethodGet, "/api/v1/events?after_event_id=0", th.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Events []struct {
			EventID int64  `json:"event_id"`
			Name    string `json:"name"`
		} `json:"events"`
		Until int64 `json:"until"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Events, 3)
	assert.Equal(t, int64(3), out.Until)
	assert.Equal(t, "channel.created", out.Events[0].Name)

	// Scope filter by topic.
	resp, data = doRequest(t, th, http.MethodGet, "/api/v1/events?topic_ids="+tp.Topic.ID, th.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Events, 2)
}

func TestMetricsExposed(t *testing.T) {
	th := testutil.StartHub(t)

	resp, data := doRequest(t, th, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(data, []byte("agenthub_open_sessions")))
}
