package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphorco/agenthub/internal/client"
	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/streaming"
	"github.com/phosphorco/agenthub/internal/testutil"
)

func connect(t *testing.T, th *testutil.TestHub, opts client.Options) *client.Client {
	t.Helper()
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 50 * time.Millisecond
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 2 * time.Second
	}
	c := client.Connect(th.URL, th.Token, opts)
	t.Cleanup(c.Close)
	return c
}

func recvEvent(t *testing.T, c *client.Client) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed early: %v", c.Err())
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestClientStreamsReplayAndLive(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	c := connect(t, th, client.Options{})

	first := recvEvent(t, c)
	second := recvEvent(t, c)
	assert.Equal(t, domain.EventChannelCreated, first.Name)
	assert.Equal(t, domain.EventTopicCreated, second.Name)

	msg, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	live := recvEvent(t, c)
	assert.Equal(t, msg.EventID, live.EventID)
	assert.Equal(t, live.EventID, c.LastEventID())
}

func TestClientForwardProgressAcrossReconnects(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	c := connect(t, th, client.Options{})

	var lastSeen int64
	check := func(ev domain.Event) {
		require.Greater(t, ev.EventID, lastSeen, "ids must strictly increase across reconnects")
		lastSeen = ev.EventID
	}
	check(recvEvent(t, c))
	check(recvEvent(t, c))

	// Kick every session off the hub; the client reconnects and resumes
	// from its cursor.
	for i := 0; i < 3; i++ {
		_, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "msg")
		require.NoError(t, err)
		check(recvEvent(t, c))

		th.Hub.Distributor.DisconnectAll() // close code 1001: reconnect
	}
}

func TestClientResumeAfterClose(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	c := connect(t, th, client.Options{})
	_ = recvEvent(t, c)
	_ = recvEvent(t, c)
	cursor := c.LastEventID()
	c.Close()

	// Two events land while the client is offline.
	m1, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "one")
	require.NoError(t, err)
	m2, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "two")
	require.NoError(t, err)

	// A new client resuming from the cursor sees exactly the missed two.
	c2 := connect(t, th, client.Options{AfterEventID: cursor})
	got1 := recvEvent(t, c2)
	got2 := recvEvent(t, c2)
	assert.Equal(t, m1.EventID, got1.EventID)
	assert.Equal(t, m2.EventID, got2.EventID)
}

func TestClientSubscriptionFilter(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch1, err := st.CreateChannel(ctx, "one", "")
	require.NoError(t, err)
	ch2, err := st.CreateChannel(ctx, "two", "")
	require.NoError(t, err)
	tp1, err := st.CreateTopic(ctx, ch1.Channel.ID, "T1")
	require.NoError(t, err)
	tp2, err := st.CreateTopic(ctx, ch2.Channel.ID, "T2")
	require.NoError(t, err)

	c := connect(t, th, client.Options{
		Subscriptions: &streaming.Subscriptions{Channels: []string{ch1.Channel.ID}},
	})
	_ = recvEvent(t, c) // channel.created
	_ = recvEvent(t, c) // topic.created

	_, err = st.SendMessage(ctx, tp2.Topic.ID, "bob", "invisible")
	require.NoError(t, err)
	visible, err := st.SendMessage(ctx, tp1.Topic.ID, "alice", "visible")
	require.NoError(t, err)

	ev := recvEvent(t, c)
	assert.Equal(t, visible.EventID, ev.EventID)
}

func TestWaitForEvent(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	c := connect(t, th, client.Options{})

	// The waiter fires even though nobody drains Events().
	done := make(chan domain.Event, 1)
	go func() {
		ev, err := c.WaitForEvent(ctx, func(ev domain.Event) bool {
			return ev.Name == domain.EventMessageCreated
		}, 5*time.Second)
		if err == nil {
			done <- ev
		}
	}()

	time.Sleep(100 * time.Millisecond) // let the waiter register
	msg, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	select {
	case ev := <-done:
		assert.Equal(t, msg.EventID, ev.EventID)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not fire")
	}
}

func TestWaitForEventTimeout(t *testing.T) {
	th := testutil.StartHub(t)
	c := connect(t, th, client.Options{})

	_, err := c.WaitForEvent(context.Background(), func(domain.Event) bool {
		return false
	}, 100*time.Millisecond)
	assert.ErrorIs(t, err, client.ErrWaitTimeout)
}

func TestWaitForEventConnectionClosed(t *testing.T) {
	th := testutil.StartHub(t)
	c := connect(t, th, client.Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.WaitForEvent(context.Background(), func(domain.Event) bool {
			return false
		}, 10*time.Second)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, client.ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not resolve on close")
	}
}

func TestClientUnauthorizedDoesNotReconnect(t *testing.T) {
	th := testutil.StartHub(t)

	c := client.Connect(th.URL, "wrong-token", client.Options{
		ReconnectDelay: 20 * time.Millisecond,
		OpenTimeout:    2 * time.Second,
	})
	defer c.Close()

	select {
	case _, ok := <-c.Events():
		require.False(t, ok, "expected the stream to end")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate")
	}
	assert.ErrorIs(t, c.Err(), client.ErrUnauthorized)
}

func TestClientGivesUpAfterConsecutiveFailures(t *testing.T) {
	// No hub at this address: every dial fails.
	c := client.Connect("http://127.0.0.1:1", "token", client.Options{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
		OpenTimeout:       200 * time.Millisecond,
	})
	defer c.Close()

	select {
	case _, ok := <-c.Events():
		require.False(t, ok)
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not give up")
	}
	assert.ErrorIs(t, c.Err(), client.ErrTooManyFailures)
}

func TestMutationAPIVersionConflict(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	apiClient := client.NewAPI(th.URL, th.Token)

	ch, err := apiClient.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := apiClient.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)
	msg, err := apiClient.SendMessage(ctx, tp.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	v1 := int64(1)
	_, err = apiClient.EditMessage(ctx, msg.Message.ID, "x", &v1)
	require.NoError(t, err)

	_, err = apiClient.EditMessage(ctx, msg.Message.ID, "y", &v1)
	require.Error(t, err)
	current, ok := client.IsVersionConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(2), current)
}
