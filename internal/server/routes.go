package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/kuba2k2/zuzel-sub000/internal/game"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Response wraps every JSON answer of the lobby API.
type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_start_time"`
	RespEndTime   int64 `json:"resp_end_time"`
	NetRespTime   int64 `json:"net_resp_time"`
	Data          any   `json:"data"`
}

type RoomInfo struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	State     string          `json:"state"`
	Speed     int             `json:"speed"`
	Round     int             `json:"round"`
	Rounds    int             `json:"rounds"`
	Players   int             `json:"players"`
	CreatedAt time.Time       `json:"created_at"`
	Standings []game.Standing `json:"standings,omitempty"`
}

type RoomList struct {
	Page    int        `json:"page"`
	PerPage int        `json:"per_page"`
	Total   int        `json:"total"`
	Rooms   []RoomInfo `json:"rooms"`
}

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	r.Use(s.corsMiddleware)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/rooms", s.ListRoomsHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/rooms/{key}", s.RoomHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ws", s.ServeWS)

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UnixMilli()
	writeJSON(w, start, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  s.registry.Len(),
	})
}

func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UnixMilli()

	page := queryInt(r, "page", 0)
	perPage := min(queryInt(r, "per_page", defaultPerPage), maxPerPage)
	if page < 0 || perPage <= 0 {
		writeJSON(w, start, http.StatusBadRequest, "page and per_page must be positive")
		return
	}

	actors, total := s.registry.List(page, perPage)
	list := RoomList{Page: page, PerPage: perPage, Total: total, Rooms: make([]RoomInfo, 0, len(actors))}
	for _, a := range actors {
		list.Rooms = append(list.Rooms, roomInfo(a, false))
	}
	writeJSON(w, start, http.StatusOK, list)
}

func (s *Server) RoomHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now().UnixMilli()
	key := strings.ToUpper(mux.Vars(r)["key"])

	a := s.registry.Find(key)
	if a == nil {
		writeJSON(w, start, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, start, http.StatusOK, roomInfo(a, true))
}

func roomInfo(a *game.Actor, standings bool) RoomInfo {
	a.Room.Mu.RLock()
	info := RoomInfo{
		Key:       a.Room.Key,
		Name:      a.Room.Name,
		State:     a.Room.Phase.String(),
		Speed:     a.Room.Speed,
		Round:     a.Room.Round,
		Rounds:    a.Room.Rounds,
		Players:   len(a.Room.Players),
		CreatedAt: a.Room.CreatedAt,
	}
	a.Room.Mu.RUnlock()

	if standings {
		info.Standings = game.Standings(a.Room)
	}
	return info
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func writeJSON(w http.ResponseWriter, start int64, status int, data any) {
	end := time.Now().UnixMilli()
	resp := Response{
		StatusCode:    status,
		RespStartTime: start,
		RespEndTime:   end,
		NetRespTime:   end - start,
		Data:          data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
