package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/clients"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/config"
	"github.com/andrewmarklloyd/mf15-lock-bridge/internal/pkg/entity"
	gmux "github.com/gorilla/mux"
)

const (
	post = "post"
	get  = "get"
)

type WebServer struct {
	httpServer     *http.Server
	bridgeClients  clients.BridgeClients
	manager        *entity.Manager
	allowedAPIKeys []string
	version        string
}

func newWebServer(bridgeConfig config.BridgeConfig, clients clients.BridgeClients, manager *entity.Manager) WebServer {
	w := WebServer{
		bridgeClients:  clients,
		manager:        manager,
		allowedAPIKeys: bridgeConfig.AllowedAPIKeys,
		version:        bridgeConfig.Version,
	}

	srv := &http.Server{
		Handler:      w.router(),
		Addr:         "0.0.0.0:" + bridgeConfig.Port,
		WriteTimeout: commandTimeout + 5*time.Second,
		ReadTimeout:  15 * time.Second,
	}

	w.httpServer = srv
	return w
}

func (s WebServer) router() *gmux.Router {
	router := gmux.NewRouter().StrictSlash(true)
	router.Handle("/health", s.requireAPIKey(http.HandlerFunc(s.healthHandler))).Methods(get)
	router.Handle("/api/locks", s.requireAPIKey(http.HandlerFunc(s.allLocksHandler))).Methods(get)
	router.Handle("/api/report", s.requireAPIKey(http.HandlerFunc(s.reportHandler))).Methods(get)
	router.Handle("/api/locks/{id}/{action:lock|unlock}", s.requireAPIKey(http.HandlerFunc(s.lockActionHandler))).Methods(post)
	return router
}

func (s WebServer) healthHandler(w http.ResponseWriter, req *http.Request) {
	fmt.Fprintf(w, `{"version":"%s"}`, s.version)
}

func (s WebServer) allLocksHandler(w http.ResponseWriter, req *http.Request) {
	locks, err := s.lockStatuses(req.Context())
	if err != nil {
		logger.Errorf("Error getting lock states: %s", err)
		http.Error(w, `{"error":"getting locks"}`, http.StatusInternalServerError)
		return
	}
	json, _ := json.Marshal(locks)
	fmt.Fprintf(w, `{"locks":%s}`, string(json))
}

// lockStatuses prefers the redis cache, which also holds locks seen by
// earlier runs.
func (s WebServer) lockStatuses(ctx context.Context) ([]config.LockStatus, error) {
	if s.bridgeClients.Redis != nil {
		return s.bridgeClients.Redis.ReadAllState(ctx)
	}

	locks := []config.LockStatus{}
	for _, e := range s.manager.All() {
		status := lockStatus(e.Lock.Name(), e.Monitor.Snapshot(), s.version)
		status.State = e.Lock.State()
		status.Battery = nil
		if e.Battery != nil {
			if pct, ok := e.Battery.Value(); ok {
				status.Battery = &pct
			}
		}
		locks = append(locks, status)
	}
	return locks, nil
}

func (s WebServer) reportHandler(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	device := query.Get("device")
	page, err := strconv.Atoi(query.Get("page"))
	if err != nil {
		http.Error(w, "Page not found", http.StatusBadRequest)
		return
	}
	if device == "" {
		http.Error(w, "Pass device in request", http.StatusBadRequest)
		return
	}
	if s.bridgeClients.Postgres == nil {
		http.Error(w, "History is not configured", http.StatusServiceUnavailable)
		return
	}

	events, numPages, err := s.bridgeClients.Postgres.GetLockEvents(device, page)
	if err != nil {
		logger.Errorf("Error getting lock events: %s", err)
		http.Error(w, "Error getting report", http.StatusBadRequest)
		return
	}
	json, _ := json.Marshal(events)
	fmt.Fprintf(w, `{"events":%s,"numPages":%d}`, string(json), numPages)
}

func (s WebServer) lockActionHandler(w http.ResponseWriter, req *http.Request) {
	vars := gmux.Vars(req)
	e, ok := s.manager.Get(vars["id"])
	if !ok {
		http.Error(w, `{"status":"error","error":"unknown lock"}`, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), commandTimeout)
	defer cancel()

	var err error
	if vars["action"] == "unlock" {
		err = e.Lock.Unlock(ctx)
	} else {
		err = e.Lock.Lock(ctx)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"status":"error","error":"%s failed"}`, vars["action"]), http.StatusBadGateway)
		return
	}

	logger.Infof("%s requested for %s over API", vars["action"], e.Device.ID)
	fmt.Fprintf(w, "{\"status\":\"success\"}")
}

func (s WebServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !s.validAPIKey(req.Header.Get("api-key")) {
			http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s WebServer) validAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	for _, key := range s.allowedAPIKeys {
		if key == apiKey {
			return true
		}
	}
	return false
}
