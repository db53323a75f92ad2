package history

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Handler serves the sonde list, or with ?serial= that sonde's track
// (newest ?limit= points, default 1000).
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var body any
		serial := strings.TrimSpace(r.URL.Query().Get("serial"))
		if serial == "" {
			sondes, err := s.Sondes()
			if err != nil {
				http.Error(w, "history query failed", http.StatusInternalServerError)
				return
			}
			body = map[string]any{"sondes": sondes}
		} else {
			limit := 1000
			if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 || n > 100000 {
					http.Error(w, "limit must be an integer in [1,100000]", http.StatusBadRequest)
					return
				}
				limit = n
			}
			track, err := s.Track(serial, limit)
			if err != nil {
				http.Error(w, "history query failed", http.StatusInternalServerError)
				return
			}
			body = map[string]any{"serial": serial, "points": track}
		}

		b, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})
}
