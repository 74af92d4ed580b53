// Package requestutil holds the shared utilities of component H: path-param
// substitution, tag derivation, request body classification, and URL
// building. None of these depend on the cache, the plugin executor, or any
// controller — they are pure functions over plain data, mirroring the
// teacher's config.deepMergeMap helper shape.
package requestutil

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strings"
)

// ErrMissingPathParameter is returned by ResolvePath when a ":name"
// placeholder in the path has no corresponding value in params. This is a
// synchronous programming error (spec §7), not a network/HTTP failure.
var ErrMissingPathParameter = errors.New("requestutil: missing path parameter")

// ResolvePath substitutes ":name" placeholders in path with values from
// params, in order of appearance.
func ResolvePath(path string, params map[string]string) (string, error) {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := seg[1:]
		val, ok := params[name]
		if !ok {
			return "", fmt.Errorf("%w: %q in path %q", ErrMissingPathParameter, name, path)
		}
		segments[i] = val
	}
	return strings.Join(segments, "/"), nil
}

// TagMode selects how GenerateTags/ResolveTags derive a resource's tags
// from its resolved path.
type TagMode string

const (
	TagModeAll  TagMode = "all"
	TagModeSelf TagMode = "self"
	TagModeNone TagMode = "none"
)

// GenerateTags returns the prefix hierarchy of segments: ["a","a/b","a/b/c"]
// for ["a","b","c"].
func GenerateTags(segments []string) []string {
	if len(segments) == 0 {
		return nil
	}
	out := make([]string, 0, len(segments))
	cur := ""
	for _, s := range segments {
		if cur == "" {
			cur = s
		} else {
			cur = cur + "/" + s
		}
		out = append(out, cur)
	}
	return out
}

// ResolveTags applies TagMode / explicit-tag semantics (spec §3.1) to a
// resolved path's segments. An explicit, non-nil tags slice always wins
// over mode.
func ResolveTags(explicitTags []string, mode TagMode, resolvedSegments []string) []string {
	if explicitTags != nil {
		return dedup(explicitTags)
	}
	all := GenerateTags(resolvedSegments)
	switch mode {
	case TagModeSelf:
		if len(all) == 0 {
			return nil
		}
		return all[len(all)-1:]
	case TagModeNone:
		return nil
	default: // TagModeAll, "" (default)
		return all
	}
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// BodyKind classifies how ResolveRequestBody will encode a raw body value.
type BodyKind string

const (
	BodyKindNone        BodyKind = "none"
	BodyKindJSON        BodyKind = "json"
	BodyKindForm        BodyKind = "form"
	BodyKindURLEncoded  BodyKind = "urlencoded"
	BodyKindPassThrough BodyKind = "passthrough"
)

// FormMarker wraps a body value to force multipart/form-data encoding, the
// Go rendering of the source's form() marker (spec §4.8).
type FormMarker struct {
	Fields map[string]string
	Files  map[string][]byte
}

// URLEncodedMarker wraps a body value to force
// application/x-www-form-urlencoded encoding.
type URLEncodedMarker map[string]string

// ResolvedBody is the outcome of classifying a raw body value.
type ResolvedBody struct {
	Kind    BodyKind
	Body    any
	Headers map[string]string
}

// ResolveRequestBody classifies raw and returns how it should be encoded.
// A plain map/struct containing byte-slice ("file-like") fields is still
// sent as JSON unless the caller explicitly opts into multipart via
// FormMarker — matching spec §4.8's "flagged but sent as JSON unless
// wrapped in a form() marker".
func ResolveRequestBody(raw any) ResolvedBody {
	switch v := raw.(type) {
	case nil:
		return ResolvedBody{Kind: BodyKindNone}
	case FormMarker:
		return ResolvedBody{Kind: BodyKindForm, Body: v, Headers: map[string]string{"Content-Type": multipartPlaceholder()}}
	case URLEncodedMarker:
		values := url.Values{}
		for k, val := range v {
			values.Set(k, val)
		}
		return ResolvedBody{
			Kind:    BodyKindURLEncoded,
			Body:    values.Encode(),
			Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		}
	case []byte:
		return ResolvedBody{Kind: BodyKindPassThrough, Body: v}
	case string:
		return ResolvedBody{Kind: BodyKindPassThrough, Body: v}
	default:
		return ResolvedBody{Kind: BodyKindJSON, Body: v, Headers: map[string]string{"Content-Type": "application/json"}}
	}
}

func multipartPlaceholder() string {
	// ResolveRequestBody only classifies the body; the boundary generated
	// here is discarded once the caller actually encodes the multipart
	// payload (e.g. in the default transport), which allocates its own
	// writer and boundary at encode time.
	w := multipart.NewWriter(io.Discard)
	return "multipart/form-data; boundary=" + w.Boundary()
}

// BuildURL normalizes an absolute vs. relative base and appends a
// URL-encoded query string, omitting undefined ("" from Go's perspective)
// values, matching spec §4.8.
func BuildURL(baseURL, path string, query map[string]string) (string, error) {
	var full string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		full = path
	} else {
		full = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range query {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ShallowMerge implements the paginated controller's shallow-merge rule
// (spec §4.7): for Query and Params, override wins per key; for Body,
// override replaces wholesale only when it is non-nil.
func ShallowMerge(initial, override RequestOptions) RequestOptions {
	out := RequestOptions{
		Query:  mergeStringMaps(initial.Query, override.Query),
		Params: mergeStringMaps(initial.Params, override.Params),
		Body:   initial.Body,
	}
	if override.Body != nil {
		out.Body = override.Body
	}
	return out
}

// RequestOptions is the narrow {query, params, body} triple ShallowMerge
// operates on.
type RequestOptions struct {
	Query  map[string]string
	Params map[string]string
	Body   any
}

func mergeStringMaps(base, override map[string]string) map[string]string {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
