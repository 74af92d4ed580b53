package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gocodealone-labs/dataclient/requestutil"
)

// DefaultConfig configures the default net/http-backed FetchFunc.
type DefaultConfig struct {
	// Client is the underlying HTTP client. A nil Client falls back to
	// http.DefaultClient.
	Client *http.Client
	// BaseURL is prepended to Request.Path when Path is not itself
	// absolute.
	BaseURL string
}

// Default builds a FetchFunc that performs a real HTTP round trip: it
// assembles the URL and query string, encodes the body, performs the
// request, and classifies the response per spec §6.1 (status >= 400 is
// classified as Error, not Data). It is the module's ambient, swappable
// implementation of the external fetchFn collaborator described in
// spec §1 — callers may always supply their own FetchFunc instead.
func Default(cfg DefaultConfig) FetchFunc {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, req *Request) Response {
		fullURL, err := requestutil.BuildURL(cfg.BaseURL, req.Path, req.Query)
		if err != nil {
			return Response{Status: 0, Error: err}
		}

		var bodyReader io.Reader
		headers := req.Headers.Clone()
		if headers == nil {
			headers = make(http.Header)
		}
		if req.Body != nil {
			raw, encodeErr := json.Marshal(req.Body)
			if encodeErr != nil {
				return Response{Status: 0, Error: encodeErr}
			}
			bodyReader = bytes.NewReader(raw)
			if headers.Get("Content-Type") == "" {
				headers.Set("Content-Type", "application/json")
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), fullURL, bodyReader)
		if err != nil {
			return Response{Status: 0, Error: err}
		}
		httpReq.Header = headers

		resp, err := client.Do(httpReq)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return Aborted()
			}
			return Response{Status: 0, Error: err}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return Response{Status: resp.StatusCode, Error: err}
		}

		var decoded any
		if len(raw) > 0 {
			if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
				decoded = string(raw)
			}
		}

		if resp.StatusCode >= 400 {
			return Response{Status: resp.StatusCode, Error: decoded}
		}
		return Response{Status: resp.StatusCode, Data: decoded}
	}
}
