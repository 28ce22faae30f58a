// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint derives a deterministic 64-hex-digit digest from a
// normalized HTTP request. It is a pure function package: no I/O, no
// storage, no clock reads.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Request is the normalized shape fingerprint.Compute consumes. Callers
// (the middleware) are responsible for extracting these fields from the
// transport-specific request object.
type Request struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// Compute returns the lowercase hex SHA-256 fingerprint of req, restricted
// to the headers named in includeHeaders (matched case-insensitively).
//
// The composition is strict and order-sensitive per field, but each field's
// own internal ordering is canonicalized first so two requests that differ
// only in query-parameter order or header-insertion order fingerprint
// identically.
func Compute(req Request, includeHeaders []string) string {
	parts := []string{
		canonicalMethod(req.Method),
		canonicalPath(req.Path),
		canonicalQuery(req.Query),
		canonicalHeaders(req.Headers, includeHeaders),
		bodyDigest(req.Body),
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalMethod(method string) string {
	return strings.ToUpper(method)
}

func canonicalPath(path string) string {
	lower := strings.ToLower(path)
	if lower != "/" && strings.HasSuffix(lower, "/") {
		lower = strings.TrimSuffix(lower, "/")
	}
	return lower
}

// canonicalQuery parses the raw query string preserving blank values and
// duplicate keys, sorts by (key, value), and re-encodes it.
func canonicalQuery(rawQuery string) string {
	values, _ := url.ParseQuery(rawQuery)
	if len(values) == 0 {
		return ""
	}

	type pair struct{ key, value string }
	var pairs []pair
	for key, vals := range values {
		for _, v := range vals {
			pairs = append(pairs, pair{key, v})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		if p.value != "" {
			b.WriteString(url.QueryEscape(p.value))
		}
	}
	return b.String()
}

// canonicalHeaders restricts headers to includeHeaders (case-insensitive),
// lowercases names, trims values, and serializes as a JSON object with
// lexicographically sorted keys.
func canonicalHeaders(headers http.Header, includeHeaders []string) string {
	if len(includeHeaders) == 0 {
		return "{}"
	}

	wanted := make(map[string]struct{}, len(includeHeaders))
	for _, name := range includeHeaders {
		wanted[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	selected := make(map[string]string, len(wanted))
	for name, values := range headers {
		lower := strings.ToLower(name)
		if _, ok := wanted[lower]; !ok {
			continue
		}
		if len(values) == 0 {
			continue
		}
		selected[lower] = strings.TrimSpace(values[0])
	}

	keys := make([]string, 0, len(selected))
	for k := range selected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 128)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, _ := json.Marshal(selected[k])
		ordered = append(ordered, keyJSON...)
		ordered = append(ordered, ':')
		ordered = append(ordered, valJSON...)
	}
	ordered = append(ordered, '}')
	return string(ordered)
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
