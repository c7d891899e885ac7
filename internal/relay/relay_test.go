package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/docsync/internal/core/observability/log"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/pkg/delta"
)

func newTestRelay(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	relay := New(config, log.NewNop())
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		relay.Hub().Close()
		srv.Close()
	})
	return relay, srv
}

func dial(t *testing.T, srv *httptest.Server, doc string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?doc=" + doc
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func send(t *testing.T, conn *websocket.Conn, m protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(m)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not met")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_LoadRepliesWithInitial(t *testing.T) {
	relay, srv := newTestRelay(t, DefaultConfig())
	_, err := relay.Store().Put(42, "Notes", delta.New().Insert("hello\n", nil))
	require.NoError(t, err)

	conn := dial(t, srv, "42")
	send(t, conn, protocol.Load{DocumentID: 42})

	initial, ok := read(t, conn).(protocol.Initial)
	require.True(t, ok)
	assert.Equal(t, "Notes", initial.Title)
	assert.Equal(t, "hello\n", initial.Content.Text())
}

func TestHub_LoadOfUnknownDocumentIsEmpty(t *testing.T) {
	_, srv := newTestRelay(t, DefaultConfig())

	conn := dial(t, srv, "5")
	send(t, conn, protocol.Load{DocumentID: 5})

	initial := read(t, conn).(protocol.Initial)
	assert.Equal(t, "", initial.Title)
	assert.Equal(t, 0, initial.Content.Length())
}

func TestHub_EditIsRelayedToOthersOnly(t *testing.T) {
	relay, srv := newTestRelay(t, DefaultConfig())
	_, err := relay.Store().Put(1, "", delta.New().Insert("ab\n", nil))
	require.NoError(t, err)

	alice := dial(t, srv, "1")
	bob := dial(t, srv, "1")
	other := dial(t, srv, "2")
	waitFor(t, func() bool { return relay.Hub().Clients(1) == 2 && relay.Hub().Clients(2) == 1 })

	op := delta.New().Retain(2, nil).Insert("c", nil)
	send(t, alice, protocol.Edit{DocumentID: 1, Delta: op})

	edit := read(t, bob).(protocol.Edit)
	assert.Equal(t, protocol.DocumentID(1), edit.DocumentID)
	assert.True(t, op.Equal(edit.Delta))

	waitFor(t, func() bool {
		doc, err := relay.Store().Get(1)
		return err == nil && doc.Content.Text() == "abc\n"
	})

	// nothing comes back to the sender or crosses documents
	for _, conn := range []*websocket.Conn{alice, other} {
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
}

func TestHub_EditPastTheEndIsRejected(t *testing.T) {
	relay, srv := newTestRelay(t, DefaultConfig())
	_, err := relay.Store().Put(42, "", delta.New().Insert("hi\n", nil))
	require.NoError(t, err)

	writer := dial(t, srv, "42")
	peer := dial(t, srv, "42")
	waitFor(t, func() bool { return relay.Hub().Clients(42) == 2 })

	send(t, writer, protocol.Edit{DocumentID: 42, Delta: delta.New().Retain(10, nil).Insert("x", nil)})
	send(t, writer, protocol.Edit{DocumentID: 42, Delta: delta.New().Retain(2, nil).Insert("!", nil)})

	// only the valid edit reaches the peer
	edit := read(t, peer).(protocol.Edit)
	assert.Equal(t, `{"ops":[{"retain":2},{"insert":"!"}]}`, edit.Delta.String())

	joiner := dial(t, srv, "42")
	send(t, joiner, protocol.Load{DocumentID: 42})
	initial, ok := read(t, joiner).(protocol.Initial)
	require.True(t, ok)
	assert.True(t, initial.Content.IsDocument())
	assert.Equal(t, "hi!\n", initial.Content.Text())
}

func TestHub_FramesForOtherDocumentsAreDropped(t *testing.T) {
	relay, srv := newTestRelay(t, DefaultConfig())
	_, err := relay.Store().Put(7, "", delta.New().Insert("safe\n", nil))
	require.NoError(t, err)

	intruder := dial(t, srv, "42")
	victim := dial(t, srv, "7")
	waitFor(t, func() bool { return relay.Hub().Clients(42) == 1 && relay.Hub().Clients(7) == 1 })

	send(t, intruder, protocol.Edit{DocumentID: 7, Delta: delta.New().Delete(5)})
	send(t, intruder, protocol.Load{DocumentID: 7})
	send(t, intruder, protocol.Load{DocumentID: 42})

	// the first reply is the snapshot of the connection's own document
	initial := read(t, intruder).(protocol.Initial)
	assert.Equal(t, 0, initial.Content.Length())

	doc, err := relay.Store().Get(7)
	require.NoError(t, err)
	assert.Equal(t, "safe\n", doc.Content.Text())

	_ = victim.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = victim.ReadMessage()
	assert.Error(t, err)
}

func TestHub_MalformedFramesAreIgnored(t *testing.T) {
	relay, srv := newTestRelay(t, DefaultConfig())
	conn := dial(t, srv, "3")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"edit"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	send(t, conn, protocol.Load{DocumentID: 3})

	_, ok := read(t, conn).(protocol.Initial)
	assert.True(t, ok)
	assert.Equal(t, 1, relay.Hub().Clients(3))
}

func TestHub_RequiresDocumentID(t *testing.T) {
	_, srv := newTestRelay(t, DefaultConfig())
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocumentsAPI(t *testing.T) {
	config := DefaultConfig()
	config.Token = "supersecrettoken"
	_, srv := newTestRelay(t, config)

	do := func(method, path, body, token string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, bytes.NewBufferString(body))
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodPost, "/documents", `{"title":"First","content":{"ops":[{"insert":"one\n"}]}}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created documentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, protocol.DocumentID(1), created.ID)

	resp = do(http.MethodPut, "/documents/1", `{"title":"Renamed","content":{"ops":[{"insert":"two\n"}]}}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(http.MethodGet, "/documents/1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got documentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "two\n", got.Content.Text())

	resp = do(http.MethodGet, "/documents", "", "")
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0]["title"])
	assert.NotContains(t, list[0], "content")

	resp = do(http.MethodPut, "/documents/1", `{"title":"x","content":{"ops":[{"retain":1}]}}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(http.MethodDelete, "/documents/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = do(http.MethodDelete, "/documents/1", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = do(http.MethodDelete, "/documents/1", "", "supersecrettoken")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(http.MethodGet, "/documents/1", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(http.MethodDelete, "/documents/1", "", "supersecrettoken")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
