// Package httpmw holds small HTTP middleware shared by the command entry
// point, adapted from the teacher's control_plane/middleware package.
package httpmw

import "net/http"

// CORS adds permissive CORS headers for a browser-based dashboard talking
// to the proxy from a different origin, scoped down from the teacher's
// CORSMiddleware: no tenant header, since this proxy has no tenant concept.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
