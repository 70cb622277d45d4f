package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// JSONGet is an Adapter for the common case of a read-only upstream
// lookup: decode a small set of query parameters, forward them as the
// upstream URL's query string, authenticate with a bearer credential,
// and pass the upstream's JSON body through unchanged. Concrete
// endpoints (market price, NFT metadata, reverse-geocode) differ only
// in which query parameters they require and how they key their cache
// entry, so they are expressed as a JSONGet value rather than a new
// Adapter implementation apiece.
type JSONGet struct {
	// UpstreamURL is the base URL (without query string) to call.
	UpstreamURL string
	// RequiredParams lists the query parameters that must be present on
	// the incoming request; their values become both the upstream query
	// string and the cache key, in the given order.
	RequiredParams []string
	// CredentialHeader is the header carrying the acquired credential,
	// e.g. "Authorization" (value prefixed "Bearer ") or a raw API-key
	// header name. Empty means the upstream needs no credential header.
	CredentialHeader string
	// BearerPrefix, if true, sends "Bearer <credential>" rather than the
	// raw credential value.
	BearerPrefix bool
}

// Validate implements Adapter: it requires every RequiredParams entry to
// be present and non-empty, and builds a cache key from their values in
// declaration order so that distinct inputs never collide.
func (j JSONGet) Validate(r *http.Request) (string, json.RawMessage, error) {
	q := r.URL.Query()
	values := make(url.Values, len(j.RequiredParams))
	var keyParts []string
	for _, p := range j.RequiredParams {
		v := q.Get(p)
		if v == "" {
			return "", nil, fmt.Errorf("missing required parameter %q", p)
		}
		values.Set(p, v)
		keyParts = append(keyParts, p+"="+v)
	}
	input, err := json.Marshal(values)
	if err != nil {
		return "", nil, err
	}
	return strings.Join(keyParts, "&"), input, nil
}

// BuildRequest implements Adapter: a GET to UpstreamURL with the
// validated parameters as its query string and the credential attached
// per CredentialHeader.
func (j JSONGet) BuildRequest(ctx context.Context, credential string, input json.RawMessage) (*http.Request, error) {
	var values url.Values
	if err := json.Unmarshal(input, &values); err != nil {
		return nil, fmt.Errorf("decode validated input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.UpstreamURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if j.CredentialHeader != "" && credential != "" {
		value := credential
		if j.BearerPrefix {
			value = "Bearer " + credential
		}
		req.Header.Set(j.CredentialHeader, value)
	}
	return req, nil
}

// Normalize implements Adapter: the upstream body is passed through
// unchanged, provided it is valid JSON.
func (j JSONGet) Normalize(statusCode int, body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream response is not valid JSON")
	}
	return json.RawMessage(body), nil
}
