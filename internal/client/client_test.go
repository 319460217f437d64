package client

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

func TestPredictSendsMultipartAndDecodesMask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "pngbytes" || header.Filename != "frame.png" {
			t.Errorf("unexpected upload %q %q", header.Filename, data)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("unexpected part content type %q", ct)
		}

		w.Header().Set("X-Request-ID", "req-1")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"filename": "frame.png",
			"mask":     [][]int{{0, 1}, {6, 7}},
			"shape":    []int{2, 2},
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second, WithToken("tok"))
	resp, err := c.Predict(context.Background(), "/tmp/frame.png", []byte("pngbytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RequestID != "req-1" {
		t.Fatalf("unexpected request id %q", resp.RequestID)
	}
	mask, err := resp.ClassMask()
	if err != nil {
		t.Fatalf("invalid mask: %v", err)
	}
	if mask.Height != 2 || mask.Width != 2 || mask.At(1, 1) != 7 || mask.At(0, 1) != 6 {
		t.Fatalf("unexpected mask %+v", mask)
	}
}

func TestNon200BecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"model is not loaded yet"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Predict(context.Background(), "a.png", []byte("x"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Detail != "model is not loaded yet" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestStatusAndPredictImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(`{"status":"API is running","model_loaded":true,"model_state":"ready"}`))
		case "/predict_image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.ModelLoaded || status.Status != "API is running" {
		t.Fatalf("unexpected status %+v", status)
	}
	png, err := c.PredictImage(context.Background(), "a.png", []byte("x"))
	if err != nil || string(png) != "\x89PNG" {
		t.Fatalf("unexpected result %q, %v", png, err)
	}
}

func TestTransportErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Status(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatal("transport failures must not look like API errors")
	}
}
