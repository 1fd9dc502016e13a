package middleware

import (
	"net/http"
	"strings"
)

// streamPathPrefixes are endpoints serving live MPEG-TS or MP4 bodies.
// Compressing those buffers the response and stalls players.
var streamPathPrefixes = []string{
	"/stream/",
	"/streams/preview/",
	"/auto/",
}

// SkipCompressionForStreams wraps a compression middleware so that video
// responses bypass it while guide documents and JSON still compress.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range streamPathPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
