package textextract

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	e := New(nil)

	text, err := e.Extract(context.Background(), []byte("  hello world\n"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	text, err = e.Extract(context.Background(), []byte(`{"k":"v"}`), "application/json; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, text)
}

func TestExtractUnsupportedTypeYieldsEmpty(t *testing.T) {
	e := New(nil)

	text, err := e.Extract(context.Background(), []byte{0x25, 0x50, 0x44, 0x46}, "application/pdf")
	require.NoError(t, err)
	assert.Empty(t, text, "without a tika server binary formats are skipped")
	assert.False(t, e.CanExtract("application/pdf"))
	assert.True(t, e.CanExtract("text/markdown"))
}

func TestExtractWithTikaServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NotEmpty(t, body)
		_, _ = w.Write([]byte("extracted pdf text\n"))
	}))
	defer server.Close()

	e := New(&Config{TikaServerURL: server.URL})
	require.True(t, e.CanExtract("application/pdf"))

	text, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "extracted pdf text", text)
}

func TestExtractWithTikaServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	e := New(&Config{TikaServerURL: server.URL})
	_, err := e.Extract(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	assert.Error(t, err)
}
