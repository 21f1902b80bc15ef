package upload

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG.
var pngPixel, _ = base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

func TestRelay_UploadForwardsImage(t *testing.T) {
	var gotKey, gotName string
	var gotBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		f, hdr, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotBytes, _ = io.ReadAll(f)
		_, _ = w.Write([]byte(`{"data":{"url":"https://img.example/abc.png"},"success":true}`))
	}))
	defer srv.Close()

	r := NewRelay(Options{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
	url, err := r.Upload(context.Background(), "map.png", pngPixel)
	require.NoError(t, err)
	require.Equal(t, "https://img.example/abc.png", url)
	require.Equal(t, "k", gotKey)
	require.Equal(t, "map.png", gotName)
	require.Equal(t, pngPixel, gotBytes)
}

func TestRelay_UploadRejectsBadInput(t *testing.T) {
	r := NewRelay(Options{Endpoint: "http://unused", APIKey: "k", MaxBytes: 16}, nil)

	_, err := r.Upload(context.Background(), "x", nil)
	require.ErrorIs(t, err, ErrEmptyFile)

	_, err = r.Upload(context.Background(), "x", pngPixel)
	require.ErrorIs(t, err, ErrTooLarge)

	r = NewRelay(Options{Endpoint: "http://unused", APIKey: "k"}, nil)
	_, err = r.Upload(context.Background(), "notes.txt", []byte("just some text"))
	require.ErrorIs(t, err, ErrNotImage)
}

func TestRelay_UploadNotConfigured(t *testing.T) {
	r := NewRelay(Options{}, nil)
	_, err := r.Upload(context.Background(), "a.png", pngPixel)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestRelay_UploadUpstreamFailures(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"status":  func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		"garbage": func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) },
		"no url":  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"data":{}}`)) },
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			r := NewRelay(Options{Endpoint: srv.URL, APIKey: "k"}, srv.Client())
			_, err := r.Upload(context.Background(), "a.png", pngPixel)
			require.ErrorIs(t, err, ErrUpstream)
		})
	}
}
