package wled

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClientBaseURL(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"10.0.0.5", "http://10.0.0.5"},
		{"10.0.0.5:8080/", "http://10.0.0.5:8080"},
		{"https://wled.local", "https://wled.local"},
	}
	for _, tt := range tests {
		if got := NewClient(tt.address, 0).baseURL; got != tt.want {
			t.Errorf("NewClient(%q).baseURL = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestClientFullState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/json" {
			t.Errorf("request = %s %s, want GET /json", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"state":{"on":true,"bri":128,"seg":[{"id":0,"start":0,"stop":30,"len":30,"col":[[255,0,0],[],[]]}]},"info":{"name":"Desk","leds":{"count":30}}}`)
	}))
	defer srv.Close()

	full, err := NewClient(srv.URL, time.Second).FullState(context.Background())
	if err != nil {
		t.Fatalf("FullState() error = %v", err)
	}
	if !full.State.On || full.State.Brightness != 128 {
		t.Errorf("state = on:%v bri:%d, want on:true bri:128", full.State.On, full.State.Brightness)
	}
	if len(full.State.Segments) != 1 || full.State.Segments[0].Stop != 30 {
		t.Fatalf("segments = %+v, want one segment [0,30)", full.State.Segments)
	}
	if got := full.State.Segments[0].Colors[0]; len(got) != 3 || got[0] != 255 {
		t.Errorf("col[0] = %v, want [255 0 0]", got)
	}
	if full.Info.LEDs.Count != 30 {
		t.Errorf("info.leds.count = %d, want 30", full.Info.LEDs.Count)
	}
}

func TestClientFullStateStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).FullState(context.Background()); err == nil {
		t.Error("FullState() error = nil, want error")
	}
}

func TestClientSendPatch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		reply   string
		wantErr bool
	}{
		{"success", http.StatusOK, `{"success":true}`, false},
		{"full state ack", http.StatusOK, `{"on":true,"bri":10}`, false},
		{"rejected", http.StatusOK, `{"success":false}`, true},
		{"http error", http.StatusBadRequest, `{"error":9}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/json/state" {
					t.Errorf("path = %q, want /json/state", r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("decode body: %v", err)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.reply)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, time.Second).SendPatch(context.Background(), StatePatch{
				Brightness: Ptr(10),
				Segments:   []SegmentPatch{{ID: Ptr(1), On: Ptr(false)}},
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("SendPatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got["bri"] != float64(10) {
				t.Errorf("body bri = %v, want 10", got["bri"])
			}
			if _, ok := got["on"]; ok {
				t.Error("body carries on, want only set fields")
			}
		})
	}
}

func TestClientReadJSONFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/segments.json":
			io.WriteString(w, `{"version":1}`)
		case "/broken.json":
			io.WriteString(w, `{`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	var v struct {
		Version int `json:"version"`
	}
	if err := c.ReadJSONFile(context.Background(), "/segments.json", &v); err != nil {
		t.Fatalf("ReadJSONFile() error = %v", err)
	}
	if v.Version != 1 {
		t.Errorf("version = %d, want 1", v.Version)
	}

	if err := c.ReadJSONFile(context.Background(), "missing.json", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadJSONFile(missing) error = %v, want ErrNotFound", err)
	}
	if err := c.ReadJSONFile(context.Background(), "/broken.json", &v); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("ReadJSONFile(broken) error = %v, want decode error", err)
	}
}

func TestClientWriteJSONFile(t *testing.T) {
	var filename, content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("request = %s %s, want POST /upload", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("data")
		if err != nil {
			t.Errorf("FormFile(data) error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		filename, content = header.Filename, string(data)
		io.WriteString(w, "File Uploaded!")
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).WriteJSONFile(context.Background(), "segments.json", map[string]int{"version": 1})
	if err != nil {
		t.Fatalf("WriteJSONFile() error = %v", err)
	}
	if filename != "segments.json" && filename != "/segments.json" {
		t.Errorf("filename = %q, want /segments.json", filename)
	}
	if content != `{"version":1}` {
		t.Errorf("content = %q, want %q", content, `{"version":1}`)
	}
}
