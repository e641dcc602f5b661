package search_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phosphorco/agenthub/internal/config"
	"github.com/phosphorco/agenthub/internal/testutil"
)

// searchHits queries the hub's search endpoint and returns the matched
// message ids.
func searchHits(t *testing.T, th *testutil.TestHub, query string) []string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, th.URL+"/api/v1/search?q="+query, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+th.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out struct {
		Results []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &out))

	ids := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		ids = append(ids, r.Message.ID)
	}
	return ids
}

func TestSearchFollowsMessageLifecycle(t *testing.T) {
	th := testutil.StartHubWithConfig(t, func(cfg *config.Config) {
		cfg.SearchEnabled = true
	})
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)
	msg, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "a remarkable sentence")
	require.NoError(t, err)

	// Indexing is asynchronous; the hit appears shortly after commit.
	require.Eventually(t, func() bool {
		hits := searchHits(t, th, "remarkable")
		return len(hits) == 1 && hits[0] == msg.Message.ID
	}, 5*time.Second, 50*time.Millisecond)

	// Tombstoning removes the document.
	_, err = st.DeleteMessage(ctx, msg.Message.ID, "admin", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(searchHits(t, th, "remarkable")) == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSearchDisabled(t *testing.T) {
	th := testutil.StartHub(t)

	req, err := http.NewRequest(http.MethodGet, th.URL+"/api/v1/search?q=x", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+th.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
