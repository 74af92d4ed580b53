// Command example wires a Client against a small in-memory HTTP server and
// exercises all three controller kinds: a read, a write with an optimistic
// update, and a paginated read.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"time"

	"github.com/gocodealone-labs/dataclient/client"
	"github.com/gocodealone-labs/dataclient/fingerprint"
	"github.com/gocodealone-labs/dataclient/mutation"
	"github.com/gocodealone-labs/dataclient/pagequery"
	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/plugins/logging"
	"github.com/gocodealone-labs/dataclient/plugins/lrucache"
	"github.com/gocodealone-labs/dataclient/plugins/requestid"
	"github.com/gocodealone-labs/dataclient/plugins/retry"
	"github.com/gocodealone-labs/dataclient/query"
	"github.com/gocodealone-labs/dataclient/requestutil"
	"go.uber.org/zap"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func main() {
	srv := httptest.NewServer(fakeBackend())
	defer srv.Close()

	zlog, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	c := client.New(client.Config{
		BaseURL: srv.URL,
		Plugins: []plugin.Plugin{
			requestid.New(),
			logging.New(zlog),
			retry.New(retry.Config{MaxRetries: 2, InitialBackoff: 10 * time.Millisecond}),
			lrucache.New(lrucache.Config{MaxSize: 100, TTL: time.Minute}),
		},
		Logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	})

	runQuery(c)
	runMutation(c)
	runPagedQuery(c)
}

func runQuery(c *client.Client) {
	q := c.NewQuery(query.Config{
		Path:   []string{"users", ":id"},
		Method: "GET",
		Params: map[string]string{"id": "1"},
		Tags:   []string{"user:1"},
	})
	if err := q.Mount(); err != nil {
		log.Fatalf("mount query: %v", err)
	}
	defer q.Unmount()

	future := q.Fetch(false)
	resp, ok := future.Wait(context.Background())
	fmt.Printf("query: ok=%v status=%d data=%v\n", ok, resp.Status, resp.Data)
}

func runMutation(c *client.Client) {
	m := c.NewMutation(mutation.Config{
		Path:           []string{"users", ":id"},
		Method:         "PUT",
		AutoInvalidate: mutation.InvalidateSelf,
		Invalidate:     []string{"user:1"},
		Optimistic: func(body any) []mutation.OptimisticSpec {
			return []mutation.OptimisticSpec{{
				ForKey: c.Executor().CreateQueryKey(fingerprint.CallDescriptor{Path: "users/1", Method: "GET"}),
				Timing: mutation.TimingImmediate,
				Updater: func(current any) any {
					return body
				},
			}}
		},
	})
	m.Mount()
	defer m.Unmount()

	resp, err := m.Trigger(&mutation.TriggerOptions{
		Params: map[string]string{"id": "1"},
		Body:   user{ID: 1, Name: "Ada"},
	})
	fmt.Printf("mutation: err=%v status=%d data=%v\n", err, resp.Status, resp.Data)
}

func runPagedQuery(c *client.Client) {
	p := c.NewPageQuery(pagequery.Config{
		Path:   []string{"users"},
		Method: "GET",
		InitialRequest: requestutil.RequestOptions{
			Query: map[string]string{"page": "0"},
		},
		CanFetchNext: func(ctx pagequery.PageContext) bool {
			return len(ctx.Pages) < 2
		},
		NextPageRequest: func(ctx pagequery.PageContext) requestutil.RequestOptions {
			next := len(ctx.Pages)
			return requestutil.RequestOptions{Query: map[string]string{"page": strconv.Itoa(next)}}
		},
		Merger: func(pages []pagequery.Page) any {
			all := make([]any, 0, len(pages))
			for _, pg := range pages {
				all = append(all, pg.Data)
			}
			return all
		},
	})
	if err := p.Mount(); err != nil {
		log.Fatalf("mount page query: %v", err)
	}
	defer p.Unmount()

	future := p.FetchNext()
	resp, ok := future.Wait(context.Background())
	fmt.Printf("page 1: ok=%v status=%d\n", ok, resp.Status)

	future = p.FetchNext()
	resp, ok = future.Wait(context.Background())
	fmt.Printf("page 2: ok=%v status=%d\n", ok, resp.Status)

	fmt.Printf("merged: %v\n", p.GetState().Data)
}

func fakeBackend() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(user{ID: 1, Name: "Grace"})
		case http.MethodPut:
			var u user
			json.NewDecoder(r.Body).Decode(&u)
			json.NewEncoder(w).Encode(u)
		}
	})
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		json.NewEncoder(w).Encode([]user{{ID: 10, Name: "page-" + page}})
	})
	return mux
}
