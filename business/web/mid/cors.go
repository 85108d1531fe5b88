package mid

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taucoin/taunode/foundation/web"
)

// The node only serves reads and JSON posts to browsers.
var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsHeaders = []string{"Accept", "Content-Type", "Origin"}
	corsMaxAge  = 10 * time.Minute
)

// Cors lets browser pages from origin call the node. Preflight answers are
// cached by the browser for corsMaxAge.
func Cors(origin string) web.Middleware {
	methods := strings.Join(corsMethods, ", ")
	headers := strings.Join(corsHeaders, ", ")
	maxAge := strconv.Itoa(int(corsMaxAge.Seconds()))

	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Set("Access-Control-Allow-Methods", methods)
			hdr.Set("Access-Control-Allow-Headers", headers)
			hdr.Set("Access-Control-Max-Age", maxAge)
			if origin != "*" {
				hdr.Add("Vary", "Origin")
			}

			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
