package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SuccessReturnsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	fetch := Default(DefaultConfig{BaseURL: srv.URL})
	resp := fetch(context.Background(), &Request{Method: "GET", Path: "/posts/1"})

	require.Nil(t, resp.Error)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, map[string]any{"id": float64(1)}, resp.Data)
}

func TestDefault_HTTPErrorClassifiedAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}))
	defer srv.Close()

	fetch := Default(DefaultConfig{BaseURL: srv.URL})
	resp := fetch(context.Background(), &Request{Method: "GET", Path: "/missing"})

	assert.Equal(t, 404, resp.Status)
	assert.Nil(t, resp.Data)
	assert.NotNil(t, resp.Error)
}

func TestDefault_QueryParamsOmitEmpty(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	fetch := Default(DefaultConfig{BaseURL: srv.URL})
	fetch(context.Background(), &Request{
		Method: "GET",
		Path:   "/x",
		Query:  map[string]string{"a": "1", "b": ""},
	})

	assert.Equal(t, "a=1", gotQuery)
}

func TestDefault_CanceledContextReturnsAborted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	fetch := Default(DefaultConfig{BaseURL: srv.URL})

	done := make(chan Response, 1)
	go func() {
		done <- fetch(ctx, &Request{Method: "GET", Path: "/slow"})
	}()
	cancel()
	resp := <-done

	assert.True(t, resp.Aborted)
}
