package broker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"syncservice/internal/broker"
	"syncservice/internal/engine"
	"syncservice/internal/model"
)

// startSessionServer serves one session per websocket connection and
// answers every request frame by echoing its method back.
func startSessionServer(t *testing.T, b *broker.Broker) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := broker.NewSession(r.URL.Query().Get("id"), conn, b, nil, engine.NewNopLogger())
		s.Run(r.Context(), func(_ context.Context, s *broker.Session, f *broker.Frame) {
			payload, _ := json.Marshal(f.Method)
			s.Send(&broker.Frame{Type: broker.FrameResponse, ID: f.ID, Payload: payload})
		})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *broker.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f broker.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return &f
}

func waitForSubscribers(t *testing.T, b *broker.Broker, group string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(b.Subscribers(group)) != n {
		if time.Now().After(deadline) {
			t.Fatalf("group %s has %d subscribers, want %d", group, len(b.Subscribers(group)), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSession_RequestResponse(t *testing.T) {
	t.Parallel()

	b := broker.New(engine.NewNopLogger())
	conn := dial(t, startSessionServer(t, b)+"?id=s1")

	if err := conn.WriteJSON(&broker.Frame{Type: broker.FrameRequest, ID: "r1", Method: "getWorkspaces"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != broker.FrameResponse || f.ID != "r1" {
		t.Fatalf("got frame %+v, want response r1", f)
	}
	var method string
	if err := json.Unmarshal(f.Payload, &method); err != nil || method != "getWorkspaces" {
		t.Errorf("payload = %s, want \"getWorkspaces\"", f.Payload)
	}
}

func TestSession_SubscribeReceivesNotifications(t *testing.T) {
	t.Parallel()

	b := broker.New(engine.NewNopLogger())
	conn := dial(t, startSessionServer(t, b)+"?id=s1")

	conn.WriteJSON(&broker.Frame{Type: broker.FrameSubscribe, Group: "42"})
	waitForSubscribers(t, b, "42", 1)

	n := model.NewCommitNotification(&model.CommitNotification{ID: "n1", RequestID: "req"})
	if err := b.Publish(context.Background(), "42", n); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	f := readFrame(t, conn)
	if f.Type != broker.FrameNotification {
		t.Fatalf("frame type = %q, want notification", f.Type)
	}
	var got struct {
		Kind    string                   `json:"kind"`
		Payload model.CommitNotification `json:"payload"`
	}
	if err := json.Unmarshal(f.Payload, &got); err != nil {
		t.Fatalf("decoding notification: %v", err)
	}
	if got.Kind != model.KindCommit || got.Payload.RequestID != "req" {
		t.Errorf("notification = %+v", got)
	}
}

func TestSession_UnsubscribeAndDisconnect(t *testing.T) {
	t.Parallel()

	b := broker.New(engine.NewNopLogger())
	conn := dial(t, startSessionServer(t, b)+"?id=s1")

	conn.WriteJSON(&broker.Frame{Type: broker.FrameSubscribe, Group: "a"})
	conn.WriteJSON(&broker.Frame{Type: broker.FrameSubscribe, Group: "b"})
	waitForSubscribers(t, b, "a", 1)
	waitForSubscribers(t, b, "b", 1)

	conn.WriteJSON(&broker.Frame{Type: broker.FrameUnsubscribe, Group: "a"})
	waitForSubscribers(t, b, "a", 0)

	conn.Close()
	waitForSubscribers(t, b, "b", 0)
}

func TestSession_BadFrame(t *testing.T) {
	t.Parallel()

	b := broker.New(engine.NewNopLogger())
	conn := dial(t, startSessionServer(t, b)+"?id=s1")

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	f := readFrame(t, conn)
	if f.Error == nil || f.Error.Category != "BadFrame" {
		t.Errorf("got frame %+v, want BadFrame error", f)
	}
}
