package handlers

import (
	"net/http"
	"strings"
)

// RegisterMedia serves generated workbooks from dir under urlPrefix.
// Directory listings are not exposed.
func RegisterMedia(mux *http.ServeMux, urlPrefix, dir string) {
	prefix := "/" + strings.Trim(urlPrefix, "/") + "/"
	files := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))

	mux.Handle("GET "+prefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", "attachment")
		files.ServeHTTP(w, r)
	}))
}
