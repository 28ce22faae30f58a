// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package replay reconstructs an HTTP response from a stored idempotency
// artifact, applying the header filtering and replay annotations the
// middleware contract requires. It never touches the store or the
// state engine — it only knows how to turn a StoredResponse into bytes on
// the wire.
package replay

import (
	"net/http"
	"strconv"

	"github.com/hallowell/idemlayer/internal/idem"
)

// HeaderKey is the key carrying the client-supplied idempotency key on
// every mediated response.
const HeaderKey = "Idempotency-Key"

// HeaderReplay marks a response as reconstructed from a stored artifact
// rather than produced by a fresh handler invocation.
const HeaderReplay = "Idempotent-Replay"

// HeaderRetryAfter hints how long a caller should wait before retrying a
// 409 (no-wait in-progress) or 425 (timeout) response.
const HeaderRetryAfter = "Retry-After"

// dropHeaders lists hop-by-hop and connection-specific fields that must
// never survive a replay; matched case-insensitively via http.Header's
// canonical form.
var dropHeaders = []string{
	"Date",
	"Server",
	"Connection",
	"Transfer-Encoding",
	"Keep-Alive",
	"Trailer",
	"Upgrade",
	"Proxy-Authenticate",
	"Proxy-Authorization",
}

// Options controls replay-time header policy.
type Options struct {
	// DropSetCookie additionally strips Set-Cookie from replayed
	// responses. Off by default, since stripping it is optional.
	DropSetCookie bool
}

// Write reconstructs resp onto w, appending Idempotency-Key and, when
// isReplay is true, Idempotent-Replay: true. isReplay must be false for
// the first (non-replay) successful completion.
func Write(w http.ResponseWriter, key string, resp *idem.StoredResponse, isReplay bool, opts Options) {
	header := w.Header()
	for name, values := range resp.Headers {
		if isDropped(name, opts) {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}

	header.Set(HeaderKey, key)
	if isReplay {
		header.Set(HeaderReplay, "true")
	}

	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// WriteRetryAfter sets Retry-After in seconds (clamped to a minimum of 1)
// on a response that is about to be written with a non-2xx status by the
// caller, e.g. a 409 no-wait conflict or a 425 timeout.
func WriteRetryAfter(w http.ResponseWriter, seconds int) {
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(seconds))
}

func isDropped(name string, opts Options) bool {
	canon := http.CanonicalHeaderKey(name)
	for _, d := range dropHeaders {
		if canon == d {
			return true
		}
	}
	if opts.DropSetCookie && canon == "Set-Cookie" {
		return true
	}
	return false
}
