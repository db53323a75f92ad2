package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"
)

// Route mounts an extra handler on the status server.
type Route struct {
	Pattern string
	Handler http.Handler
}

// Handler serves the status API, the log tail, any extra routes and, when
// metrics is non-nil, the Prometheus endpoint at metricsPath.
func Handler(status *Status, logs *LogBuffer, metricsPath string, metrics http.Handler, routes ...Route) http.Handler {
	mux := http.NewServeMux()
	for _, rt := range routes {
		if rt.Handler != nil {
			mux.Handle(rt.Pattern, rt.Handler)
		}
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		b, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	if metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle(metricsPath, metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>radiosonde-ng</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>radiosonde-ng</h1>")
		_, _ = fmt.Fprintf(w, "<p>mode=%s input=%s uptime=%ds. See <a href=\"/api/status\">/api/status</a>.</p>",
			html.EscapeString(snap.Mode), html.EscapeString(snap.Input), snap.UptimeSec)
		_, _ = fmt.Fprintf(w, "<table><tr><th>serial</th><th>records</th><th>lat</th><th>lon</th><th>alt</th><th>last seen</th></tr>")
		for _, s := range snap.Sondes {
			_, _ = fmt.Fprintf(w, "<tr><td>%s</td><td>%d</td><td>%.5f</td><td>%.5f</td><td>%.0f</td><td>%s</td></tr>",
				html.EscapeString(s.Serial), s.Records, s.Last.Lat, s.Last.Lon, s.Last.Alt, s.LastSeenUTC)
		}
		_, _ = fmt.Fprintf(w, "</table></body></html>")
	})

	return mux
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
