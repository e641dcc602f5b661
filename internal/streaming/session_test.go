package streaming_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/streaming"
	"github.com/phosphorco/agenthub/internal/testutil"
)

const readTimeout = 5 * time.Second

func TestSessionBasicFlow(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)
	msg, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	// A fresh session from 0 replays exactly the three events in order,
	// then blocks.
	ws := testutil.DialWS(t, th, th.Token)
	ok := ws.Handshake(0, nil)
	require.Equal(t, msg.EventID, ok.ReplayUntil)
	require.NotEmpty(t, ok.InstanceID)

	events := ws.ReadEvents(3, readTimeout)
	assert.Equal(t, []string{
		domain.EventChannelCreated,
		domain.EventTopicCreated,
		domain.EventMessageCreated,
	}, []string{events[0].Name, events[1].Name, events[2].Name})
	assert.Equal(t, ch.EventID, events[0].EventID)
	assert.Equal(t, tp.EventID, events[1].EventID)
	assert.Equal(t, msg.EventID, events[2].EventID)

	ws.ExpectNoEvent(300 * time.Millisecond)
}

func TestSessionLiveDelivery(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	ws := testutil.DialWS(t, th, th.Token)
	ok := ws.Handshake(0, nil)
	_ = ws.ReadEvents(2, readTimeout)

	// Events committed after the handshake arrive in the live phase with
	// ids past the frozen boundary.
	msg, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "hello")
	require.NoError(t, err)

	live := ws.ReadEvent(readTimeout)
	assert.Equal(t, msg.EventID, live.EventID)
	assert.Greater(t, live.EventID, ok.ReplayUntil)
	assert.Equal(t, domain.EventMessageCreated, live.Name)
}

func TestReplayBoundaryUnderConcurrentCommits(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	preCommitted := 2 // channel.created + topic.created
	for i := 0; i < 98; i++ {
		_, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "pre")
		require.NoError(t, err)
	}
	boundary, err := st.MaxEventID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(preCommitted+98), boundary)

	ws := testutil.DialWS(t, th, th.Token)
	ok := ws.Handshake(0, nil)
	require.Equal(t, boundary, ok.ReplayUntil)

	// Commit more while replay is (or may be) in flight.
	commitDone := make(chan []int64)
	go func() {
		var ids []int64
		for i := 0; i < 10; i++ {
			res, err := st.SendMessage(ctx, tp.Topic.ID, "bob", "during")
			if err == nil {
				ids = append(ids, res.EventID)
			}
		}
		commitDone <- ids
	}()

	// Replay emits exactly 1..boundary in order.
	replayed := ws.ReadEvents(int(boundary), readTimeout)
	for i, ev := range replayed {
		require.Equal(t, int64(i+1), ev.EventID)
	}

	liveIDs := <-commitDone
	require.Len(t, liveIDs, 10)

	// The live phase then emits exactly the concurrent commits, in order.
	for _, want := range liveIDs {
		ev := ws.ReadEvent(readTimeout)
		assert.Equal(t, want, ev.EventID)
		assert.Greater(t, ev.EventID, ok.ReplayUntil)
	}
}

func TestConcurrentMutationsStreamInAscendingOrder(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	ws := testutil.DialWS(t, th, th.Token)
	ok := ws.Handshake(0, nil)
	_ = ws.ReadEvents(2, readTimeout)

	// Genuinely concurrent mutating goroutines: each commit races the
	// others into the distributor. The session must still observe every
	// live event with a strictly greater id than the one before it.
	const (
		writers          = 8
		writesPerRoutine = 20
	)
	var (
		wg        sync.WaitGroup
		committed atomic.Int64
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writesPerRoutine; i++ {
				if _, err := st.SendMessage(ctx, tp.Topic.ID, "racer", "msg"); err == nil {
					committed.Add(1)
				}
			}
		}()
	}

	// Drain live events while the writers run so the session buffer
	// never saturates.
	total := writers * writesPerRoutine
	prev := ok.ReplayUntil
	for i := 0; i < total; i++ {
		ev := ws.ReadEvent(readTimeout)
		require.Greater(t, ev.EventID, prev,
			"live event ids must be strictly ascending (got %d after %d)", ev.EventID, prev)
		prev = ev.EventID
	}

	wg.Wait()
	require.Equal(t, int64(total), committed.Load())
	ws.ExpectNoEvent(300 * time.Millisecond)
}

func TestSubscriptionFiltering(t *testing.T) {
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

	ws := testutil.DialWS(t, th, th.Token)
	ws.Handshake(0, &streaming.Subscriptions{Channels: []string{ch1.Channel.ID}})

	// Replay filtered to channel one.
	replayed := ws.ReadEvents(2, readTimeout)
	assert.Equal(t, ch1.EventID, replayed[0].EventID)
	assert.Equal(t, tp1.EventID, replayed[1].EventID)

	// Live: channel two traffic is invisible, channel one arrives.
	_, err = st.SendMessage(ctx, tp2.Topic.ID, "bob", "other channel")
	require.NoError(t, err)
	visible, err := st.SendMessage(ctx, tp1.Topic.ID, "alice", "mine")
	require.NoError(t, err)

	live := ws.ReadEvent(readTimeout)
	assert.Equal(t, visible.EventID, live.EventID)
}

func TestTopicSubscriberSeesBothSidesOfMove(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	ta, err := st.CreateTopic(ctx, ch.Channel.ID, "A")
	require.NoError(t, err)
	tb, err := st.CreateTopic(ctx, ch.Channel.ID, "B")
	require.NoError(t, err)
	msg, err := st.SendMessage(ctx, ta.Topic.ID, "alice", "hi")
	require.NoError(t, err)

	// One subscriber per side.
	wsOld := testutil.DialWS(t, th, th.Token)
	okOld := wsOld.Handshake(0, &streaming.Subscriptions{Topics: []string{ta.Topic.ID}})
	wsNew := testutil.DialWS(t, th, th.Token)
	okNew := wsNew.Handshake(0, &streaming.Subscriptions{Topics: []string{tb.Topic.ID}})

	// Drain replays: old-topic subscriber sees topic.created + message.
	_ = wsOld.ReadEvents(2, readTimeout)
	_ = wsNew.ReadEvents(1, readTimeout)

	res, err := st.RetopicMessage(ctx, msg.Message.ID, tb.Topic.ID, domain.RetopicOne, nil)
	require.NoError(t, err)
	require.Len(t, res.EventIDs, 1)

	for _, ws := range []*testutil.WSConn{wsOld, wsNew} {
		ev := ws.ReadEvent(readTimeout)
		assert.Equal(t, res.EventIDs[0], ev.EventID)
		assert.Equal(t, domain.EventMessageMovedTopic, ev.Name)
		assert.Equal(t, ta.Topic.ID, ev.Scope.TopicID)
		assert.Equal(t, tb.Topic.ID, ev.Scope.TopicID2)
	}
	_ = okOld
	_ = okNew
}

func TestResumeFromCursor(t *testing.T) {
	th := testutil.StartHub(t)
	ctx := context.Background()
	st := th.Hub.Store

	ch, err := st.CreateChannel(ctx, "general", "")
	require.NoError(t, err)
	tp, err := st.CreateTopic(ctx, ch.Channel.ID, "Intro")
	require.NoError(t, err)

	// First session consumes up to K, then disconnects.
	ws := testutil.DialWS(t, th, th.Token)
	ws.Handshake(0, nil)
	events := ws.ReadEvents(2, readTimeout)
	cursor := events[1].EventID
	ws.Conn.Close()

	// Two more events land while offline.
	m1, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "one")
	require.NoError(t, err)
	m2, err := st.SendMessage(ctx, tp.Topic.ID, "alice", "two")
	require.NoError(t, err)

	// Reconnect from K: exactly the two missed events, in order.
	ws2 := testutil.DialWS(t, th, th.Token)
	ws2.Handshake(cursor, nil)
	missed := ws2.ReadEvents(2, readTimeout)
	assert.Equal(t, m1.EventID, missed[0].EventID)
	assert.Equal(t, m2.EventID, missed[1].EventID)
	ws2.ExpectNoEvent(300 * time.Millisecond)
}

func TestUnauthorizedCloseCode(t *testing.T) {
	th := testutil.StartHub(t)

	ws := testutil.DialWS(t, th, "wrong-token")
	ws.ExpectClose(streaming.CloseUnauthorized, readTimeout)
}

func TestMalformedHelloPolicyClose(t *testing.T) {
	th := testutil.StartHub(t)

	ws := testutil.DialWS(t, th, th.Token)
	require.NoError(t, ws.Conn.WriteJSON(map[string]any{"type": "not-hello"}))
	ws.ExpectClose(streaming.ClosePolicyViolation, readTimeout)
}

func TestDistributorSessionCount(t *testing.T) {
	th := testutil.StartHub(t)

	require.Equal(t, 0, th.Hub.Distributor.SessionCount())

	ws := testutil.DialWS(t, th, th.Token)
	ws.Handshake(0, nil)
	require.Eventually(t, func() bool {
		return th.Hub.Distributor.SessionCount() == 1
	}, 2*time.Second, 20*time.Millisecond)

	ws.Conn.Close()
	require.Eventually(t, func() bool {
		return th.Hub.Distributor.SessionCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
