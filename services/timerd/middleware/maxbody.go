package middleware

import "net/http"

// MaxBodySize caps request body size at n bytes. Reads past the limit fail
// and the JSON decoder surfaces the error as a normal bad request.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
