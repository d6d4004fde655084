package versioning

import (
	"encoding/json"
	"net/http"
)

const (
	// HeaderAPIVersion is stamped on every API response.
	HeaderAPIVersion = "X-Api-Version"
	// HeaderAcceptVersion lets callers pin a version.
	HeaderAcceptVersion = "Accept-Version"
)

// Middleware stamps the served API version and rejects requests pinned to
// an unsupported major version.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderAPIVersion, CurrentVersion.String())

		if requested := r.Header.Get(HeaderAcceptVersion); requested != "" {
			v, err := Parse(requested)
			if err != nil {
				writeVersionError(w, http.StatusBadRequest, "invalid Accept-Version header")
				return
			}
			if !IsSupported(v) {
				writeVersionError(w, http.StatusNotAcceptable, "requested API version is not supported")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func writeVersionError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":     message,
		"supported": CurrentVersion.String(),
	})
}
