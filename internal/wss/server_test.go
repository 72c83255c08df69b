package wss

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/lijuuu/ContestLivescoreService/internal/broadcaster"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/service"
	"github.com/lijuuu/ContestLivescoreService/internal/state"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type frame struct {
	Type           string                   `json:"type"`
	Status         string                   `json:"status"`
	Code           string                   `json:"code"`
	SubscriptionID string                   `json:"subscriptionId"`
	Stations       []model.LeaderboardEntry `json:"stations"`
	Changes        []model.EntryPatch       `json:"changes"`
	Payload        map[string]any           `json:"payload"`
}

func newTestServer(t *testing.T) (*httptest.Server, *service.ContestService) {
	t.Helper()
	st := state.NewLocalStateManager()
	svc := service.NewContestService(st, nil, nil, service.DefaultConfig())
	t.Cleanup(svc.Close)

	for _, sub := range []model.Submission{
		{Contest: "CQWW", Callsign: "K1ABC", Continent: "NA", CQZone: "5", Score: 300},
		{Contest: "CQWW", Callsign: "DL1XX", Continent: "EU", CQZone: "14", Score: 200},
		{Contest: "CQWW", Callsign: "G4ABC", Continent: "EU", CQZone: "14", Score: 100},
	} {
		if _, err := svc.Submit(context.Background(), sub); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := svc.Sync(context.Background(), "CQWW"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	cfg := broadcaster.DefaultConfig()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.Subscription.MinInterval = 0
	b := broadcaster.New(svc, st, cfg)
	t.Cleanup(b.Stop)

	srv := httptest.NewServer(WsHandler(NewDefaultDispatcher(), &wsstypes.State{Broadcaster: b}, time.Second))
	t.Cleanup(srv.Close)
	return srv, svc
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, payload map[string]any) {
	t.Helper()
	raw, err := json.Marshal(wsstypes.WsMessage{Type: msgType, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readType reads frames until one of the given type arrives.
func readType(t *testing.T, ws *websocket.Conn, want string) frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if f.Type == want {
			return f
		}
	}
}

func TestQuerySubscribeSendsFilteredInit(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv, "?contest=CQWW&callsign=dl1xx&filter_type=continent&filter_value=eu")

	f := readType(t, ws, model.StreamInit)
	if f.SubscriptionID == "" {
		t.Error("init has no subscription id")
	}
	if len(f.Stations) != 2 {
		t.Fatalf("stations = %d, want the 2 EU stations", len(f.Stations))
	}
	if f.Stations[0].Callsign != "DL1XX" || f.Stations[0].Position != 1 || !f.Stations[0].Monitored {
		t.Errorf("first station = %+v", f.Stations[0])
	}
}

func TestDeltaAfterSubmission(t *testing.T) {
	srv, svc := newTestServer(t)
	ws := dial(t, srv, "")

	send(t, ws, wsstypes.SUBSCRIBE, map[string]any{"contest": "CQWW", "callsign": "K1ABC"})
	readType(t, ws, model.StreamInit)

	if _, err := svc.Submit(context.Background(), model.Submission{Contest: "CQWW", Callsign: "G4ABC", Continent: "EU", CQZone: "14", Score: 400}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Sync(context.Background(), "CQWW"); err != nil {
		t.Fatal(err)
	}

	update := readType(t, ws, model.StreamUpdate)
	byCall := make(map[string]model.EntryPatch)
	for _, c := range update.Changes {
		byCall[c.Callsign] = c
	}
	g4, ok := byCall["G4ABC"]
	if !ok || g4.Position == nil || *g4.Position != 1 || g4.Score == nil || *g4.Score != 400 {
		t.Errorf("G4ABC patch = %+v", g4)
	}
	if k1, ok := byCall["K1ABC"]; !ok || k1.Position == nil || *k1.Position != 2 {
		t.Errorf("K1ABC patch = %+v", k1)
	}
}

func TestClientErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv, "")

	send(t, ws, wsstypes.SUBSCRIBE, map[string]any{"contest": "IARU HF"})
	if f := readType(t, ws, wsstypes.SUBSCRIBE); f.Status != "error" || f.Code != wsstypes.CONTEST_NOT_FOUND {
		t.Errorf("unknown contest = %+v", f)
	}

	send(t, ws, wsstypes.RESUME, map[string]any{"subscriptionId": "nope"})
	if f := readType(t, ws, wsstypes.RESUME); f.Code != wsstypes.UNKNOWN_SUBSCRIPTION {
		t.Errorf("unknown resume = %+v", f)
	}

	send(t, ws, "JOIN_CHALLENGE", nil)
	if f := readType(t, ws, "JOIN_CHALLENGE"); f.Code != wsstypes.UNKNOWN_EVENT {
		t.Errorf("unknown event = %+v", f)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if f := readType(t, ws, wsstypes.ERROR); f.Code != wsstypes.INVALID_PAYLOAD {
		t.Errorf("broken frame = %+v", f)
	}

	send(t, ws, wsstypes.PING_SERVER, nil)
	if f := readType(t, ws, wsstypes.PONG_SERVER); f.Status != "ok" {
		t.Errorf("pong = %+v", f)
	}
}

func TestResumeOnNewConnection(t *testing.T) {
	srv, _ := newTestServer(t)

	first := dial(t, srv, "?contest=CQWW")
	id := readType(t, first, model.StreamInit).SubscriptionID
	first.Close()

	second := dial(t, srv, "")
	// the old socket may still be draining on the server, so retry briefly
	deadline := time.Now().Add(3 * time.Second)
	for {
		send(t, second, wsstypes.RESUME, map[string]any{"subscriptionId": id})
		second.SetReadDeadline(time.Now().Add(time.Second))
		_, raw, err := second.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatal(err)
		}
		if f.Type == model.StreamInit {
			if f.SubscriptionID != id || len(f.Stations) != 3 {
				t.Errorf("resumed init = %+v", f)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("resume never succeeded, last frame %+v", f)
		}
		time.Sleep(20 * time.Millisecond)
	}

	send(t, second, wsstypes.UNSUBSCRIBE, map[string]any{"subscriptionId": id})
	if f := readType(t, second, wsstypes.SUBSCRIPTION_CLOSED); f.Payload["subscriptionId"] != id {
		t.Errorf("closed = %+v", f)
	}
}
