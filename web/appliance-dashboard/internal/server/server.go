package server

import (
	"context"
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"appliance-dashboard-go/internal/api"
	"appliance-dashboard-go/internal/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	mux       *http.ServeMux
	tmpl      *template.Template
	api       *api.Client
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	broadcast chan interface{}
}

func New() *Server {
	funcMap := template.FuncMap{
		"toJSON": toJSON,
	}
	tmpl := template.Must(template.New("base").Funcs(funcMap).ParseGlob("templates/*.html"))

	s := &Server{
		mux:       http.NewServeMux(),
		tmpl:      tmpl,
		api:       api.New(),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan interface{}, 256),
	}

	s.routes()
	go s.handleBroadcast()
	go s.periodicUpdate()

	return s
}

func (s *Server) routes() {
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/", s.handleDashboard)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/api/stats", s.handleAPIStats)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	stats, _ := s.getStats(context.Background())
	conn.WriteJSON(map[string]interface{}{
		"type": "init",
		"data": stats,
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) handleBroadcast() {
	for msg := range s.broadcast {
		s.clientsMu.RLock()
		for conn := range s.clients {
			if err := conn.WriteJSON(msg); err != nil {
				conn.Close()
				delete(s.clients, conn)
			}
		}
		s.clientsMu.RUnlock()
	}
}

func (s *Server) periodicUpdate() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats, err := s.getStats(context.Background())
		if err != nil {
			continue
		}
		s.broadcast <- map[string]interface{}{
			"type": "update",
			"data": stats,
		}
	}
}

// getStats collects the live measurements of every appliance the monitor
// knows about.
func (s *Server) getStats(ctx context.Context) (map[string]interface{}, error) {
	appliances, err := s.api.Appliances(ctx)
	if err != nil {
		return nil, err
	}

	measurements := make(map[string]models.Measurements, len(appliances))
	for _, a := range appliances {
		if m, err := s.api.Measurements(ctx, a.ID); err == nil {
			measurements[a.ID] = m
		}
	}

	return map[string]interface{}{
		"appliances":   appliances,
		"measurements": measurements,
		"timestamp":    time.Now().Unix(),
	}, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "offline"
	if err := s.api.Health(ctx); err == nil {
		status = "online"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, _ := s.getStats(ctx)
	data := map[string]interface{}{
		"Title":     "Appliance Monitor",
		"StatsJSON": toJSON(stats),
		"APIStatus": s.status(ctx),
	}
	s.render(w, "dashboard.html", data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := r.URL.Query().Get("appliance")
	if id == "" {
		http.Error(w, "missing appliance", http.StatusBadRequest)
		return
	}
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	history, err := s.api.History(ctx, id, days)
	if err != nil {
		log.Println("history error:", err)
		http.Error(w, "history unavailable", http.StatusBadGateway)
		return
	}

	data := map[string]interface{}{
		"Title":       "Cycle History",
		"ApplianceID": id,
		"Days":        days,
		"History":     history,
		"CyclesJSON":  toJSON(history.Cycles),
		"APIStatus":   s.status(ctx),
	}
	s.render(w, "history.html", data)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := s.getStats(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) status(ctx context.Context) string {
	if err := s.api.Health(ctx); err == nil {
		return "online"
	}
	return "offline"
}

func toJSON(v interface{}) template.JS {
	b, _ := json.Marshal(v)
	return template.JS(b)
}

func (s *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Println("render error:", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}
