package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fd1az/swapengine/internal/logger"
)

func TestServer_Probes(t *testing.T) {
	s := NewServer(0, "test", logger.NewDiscard())
	s.RegisterCheck("database", func(ctx context.Context) error { return nil })

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var status Status
	_ = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || status.Status != "ok" || !status.Checks["database"].Healthy {
		t.Errorf("healthy probe: code=%d status=%+v", resp.StatusCode, status)
	}

	s.RegisterCheck("ledger", func(ctx context.Context) error { return errors.New("rpc down") })

	resp, err = http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready with failing check = %d, want 503", resp.StatusCode)
	}

	got := s.Run(context.Background())
	if got.Status != "degraded" || got.Checks["ledger"].Message != "rpc down" {
		t.Errorf("Run() = %+v", got)
	}

	resp, err = http.Get(srv.URL + "/live")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live = %d", resp.StatusCode)
	}
}
