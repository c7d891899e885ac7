package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

type testServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan url.Values, 4),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.queries <- r.URL.Query()
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func newChannel(ts *testServer, id protocol.DocumentID) *Channel {
	config := DefaultConfig()
	config.URL = ts.wsURL()
	config.DocumentID = id
	return New(config, log.NewNop())
}

func TestChannel_OpenSendsLoad(t *testing.T) {
	ts := newTestServer(t)
	ch := newChannel(ts, 42)
	defer ch.Close()

	assert.Equal(t, StateConnecting, ch.State())
	require.NoError(t, ch.Open(context.Background()))
	assert.Equal(t, StateOpen, ch.State())

	conn := ts.accept(t)
	assert.Equal(t, "42", (<-ts.queries).Get("doc"))
	assert.Equal(t, `{"type":"load","document_id":42}`, readFrame(t, conn))
}

func TestChannel_DeliversInArrivalOrder(t *testing.T) {
	ts := newTestServer(t)
	ch := newChannel(ts, 1)
	defer ch.Close()
	require.NoError(t, ch.Open(context.Background()))

	conn := ts.accept(t)
	readFrame(t, conn)

	frames := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	for _, want := range frames {
		select {
		case got := <-ch.Messages():
			assert.Equal(t, want, string(got))
		case <-time.After(5 * time.Second):
			t.Fatal("frame not delivered")
		}
	}
}

func TestChannel_Send(t *testing.T) {
	ts := newTestServer(t)
	ch := newChannel(ts, 9)

	err := ch.Send(protocol.Edit{DocumentID: 9, Delta: delta.New().Insert("a", nil)})
	assert.True(t, errors.Is(err, ErrNotOpen), "send before open")

	require.NoError(t, ch.Open(context.Background()))
	conn := ts.accept(t)
	readFrame(t, conn)

	require.NoError(t, ch.Send(protocol.Edit{DocumentID: 9, Delta: delta.New().Insert("a", nil)}))
	assert.JSONEq(t, `{"type":"edit","document_id":9,"delta":{"ops":[{"insert":"a"}]}}`, readFrame(t, conn))

	require.NoError(t, ch.Close())
	err = ch.Send(protocol.Edit{DocumentID: 9, Delta: delta.New().Insert("b", nil)})
	assert.True(t, errors.Is(err, ErrNotOpen), "send after close")
}

func TestChannel_CloseIsTerminal(t *testing.T) {
	ts := newTestServer(t)
	ch := newChannel(ts, 3)
	require.NoError(t, ch.Open(context.Background()))
	conn := ts.accept(t)
	readFrame(t, conn)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())
	assert.NoError(t, ch.Err())

	_, open := <-ch.Messages()
	assert.False(t, open)
	assert.True(t, errors.Is(ch.Open(context.Background()), ErrAlreadyStarted))
}

func TestChannel_ServerDropClosesChannel(t *testing.T) {
	ts := newTestServer(t)
	ch := newChannel(ts, 5)
	require.NoError(t, ch.Open(context.Background()))
	conn := ts.accept(t)
	readFrame(t, conn)

	require.NoError(t, conn.UnderlyingConn().Close())

	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close after drop")
	}
	assert.Equal(t, StateClosed, ch.State())
	assert.Error(t, ch.Err())
}

func TestChannel_DialPolicy(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	target := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("none makes a single attempt", func(t *testing.T) {
		atomic.StoreInt32(&attempts, 0)
		config := DefaultConfig()
		config.URL = target
		ch := New(config, log.NewNop())

		err := ch.Open(context.Background())
		assert.True(t, errors.Is(err, ErrDialFailed))
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
		assert.Equal(t, StateClosed, ch.State())
		_, open := <-ch.Messages()
		assert.False(t, open)
	})

	t.Run("bounded retries", func(t *testing.T) {
		atomic.StoreInt32(&attempts, 0)
		config := DefaultConfig()
		config.URL = target
		config.Dial = DialPolicy{
			Mode:            DialBounded,
			MaxRetries:      2,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
		}
		ch := New(config, log.NewNop())

		err := ch.Open(context.Background())
		assert.True(t, errors.Is(err, ErrDialFailed))
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})
}

func TestConfig_Target(t *testing.T) {
	config := DefaultConfig()
	config.URL = "ws://example.com/ws?token=abc"
	config.DocumentID = 12

	target, err := config.Target()
	require.NoError(t, err)
	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "12", u.Query().Get("doc"))
	assert.Equal(t, "abc", u.Query().Get("token"))

	config.URL = "http://example.com/ws"
	_, err = config.Target()
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
