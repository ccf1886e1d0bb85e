// Package web embeds the chat page and its static assets.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
)

//go:embed all:static
var staticFS embed.FS

func assets() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return sub
}

// PageHandler serves index.html.
func PageHandler() http.Handler {
	sub := assets()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, err := fs.ReadFile(sub, "index.html")
		if err != nil {
			slog.Error("web: index.html missing from embedded assets", "error", err)
			http.Error(w, "page unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(page); err != nil {
			slog.Debug("web: failed to write page", "error", err)
		}
	})
}

// StaticHandler serves the embedded assets under prefix.
func StaticHandler(prefix string) http.Handler {
	return http.StripPrefix(prefix, http.FileServer(http.FS(assets())))
}
