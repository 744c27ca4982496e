package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		handler(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url, "notifications")
	cfg.PingInterval = 0
	return cfg
}

func TestClient_ConnectAndStateChanges(t *testing.T) {
	srv, url := newServer(t, func(conn *websocket.Conn) { time.Sleep(100 * time.Millisecond) })
	defer srv.Close()

	client, err := New(testConfig(url))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	var mu sync.Mutex
	var states []State
	client.OnStateChange(func(s State, err error) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !client.IsConnected() {
		t.Errorf("state = %s, want connected", client.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("states = %v, want [connecting connected ...]", states)
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	client, err := New(testConfig("ws://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Fatal("expected dial failure")
	}
	if client.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", client.State())
	}
	if err := client.Send(ctx, []byte("x")); err != ErrNotConnected {
		t.Errorf("Send err = %v, want ErrNotConnected", err)
	}
}

func TestClient_SendJSONAndEcho(t *testing.T) {
	srv, url := newServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, typ, data); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	client, err := New(testConfig(url))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	got := make(chan []byte, 1)
	client.OnMessage(func(ctx context.Context, msg []byte) { got <- msg })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	event := map[string]any{"type": "proposal.accepted", "recipients": []string{"u-1", "u-2"}}
	if err := client.SendJSON(ctx, event); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}

	select {
	case msg := <-got:
		var decoded map[string]any
		if err := json.Unmarshal(msg, &decoded); err != nil {
			t.Fatalf("echo is not json: %v", err)
		}
		if decoded["type"] != "proposal.accepted" {
			t.Errorf("type = %v", decoded["type"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for echo")
	}
}

func TestClient_ConcurrentSend(t *testing.T) {
	var received atomic.Int32
	srv, url := newServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
			received.Add(1)
		}
	})
	defer srv.Close()

	client, err := New(testConfig(url))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	const senders, perSender = 8, 5
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				if err := client.SendJSON(ctx, map[string]int{"sender": id, "seq": j}); err != nil {
					t.Errorf("SendJSON: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for received.Load() < senders*perSender && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := received.Load(); got != senders*perSender {
		t.Errorf("server received %d messages, want %d", got, senders*perSender)
	}
}

func TestClient_OversizedMessageDisconnects(t *testing.T) {
	srv, url := newServer(t, func(conn *websocket.Conn) {
		conn.Write(context.Background(), websocket.MessageText, []byte(strings.Repeat("A", 4096)))
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	cfg := testConfig(url)
	cfg.MaxMessageSize = 100

	client, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if client.State() == StateConnected {
		t.Error("expected disconnect after oversized message")
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	srv, url := newServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	client, err := New(testConfig(url))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.State() != StateClosed {
		t.Errorf("state = %s, want closed", client.State())
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := client.Connect(ctx); err == nil {
		t.Error("Connect after Close should fail")
	}
}
