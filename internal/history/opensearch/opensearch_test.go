package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/history"
	"github.com/loykin/jsr77/internal/objectname"
)

func TestOpenSearchSink_Send(t *testing.T) {
	e := history.FromNotification(event.Notification{
		Type:      event.ObjectCreated,
		Source:    objectname.MustParse("jboss:j2eeType=J2EEApplication,name=foo.ear,J2EEServer=Local"),
		Timestamp: time.Now().UTC(),
	})

	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.URL.Path != "/idx/_doc/"+e.ID {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	if err := New(ts.URL+"/", "idx").Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(gotBody, &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if m["j2ee_type"] != "J2EEApplication" || m["type"] != string(event.ObjectCreated) {
		t.Fatalf("unexpected document: %v", m)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()
	if err := New(ts.URL, "idx").Send(context.Background(), history.Event{ID: "x"}); err == nil {
		t.Fatal("expected error on 400")
	}
}
