package httpclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fd1az/swapengine/internal/httpclient"
)

func TestRequest_PostJSONWithIdempotencyKey(t *testing.T) {
	var gotKey, gotQuery string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(httpclient.IdempotencyHeader)
		gotQuery = r.URL.Query().Get("mode")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"hold-1"}`))
	}))
	defer srv.Close()

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithBaseURL(srv.URL+"/v1"),
		httpclient.WithProviderName("gateway"),
	)
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		ID string `json:"id"`
	}
	resp, err := client.NewRequest().
		SetBody(map[string]string{"amount": "300.00"}).
		SetIdempotencyKey("p-1:hold").
		SetQueryParam("mode", "escrow").
		SetResult(&out).
		Post(context.Background(), "/holds")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if resp.StatusCode != http.StatusOK || out.ID != "hold-1" {
		t.Errorf("resp = %d, out = %+v", resp.StatusCode, out)
	}
	if gotKey != "p-1:hold" || gotQuery != "escrow" || gotBody["amount"] != "300.00" {
		t.Errorf("server saw key=%q query=%q body=%v", gotKey, gotQuery, gotBody)
	}
}

func TestRequest_ErrorHandling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"code":"insufficient_funds"}`))
	}))
	defer srv.Close()

	client, err := httpclient.NewInstrumentedClient(httpclient.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.NewRequest().Get(context.Background(), "/x"); err == nil {
		t.Error("expected default error for 402")
	}

	errDeclined := errors.New("declined")
	_, err = client.NewRequest().
		SetErrorHandler(func(status int, body []byte) error {
			if status == http.StatusPaymentRequired {
				return errDeclined
			}
			return nil
		}).
		Get(context.Background(), "/x")
	if !errors.Is(err, errDeclined) {
		t.Errorf("err = %v, want errDeclined", err)
	}
}
