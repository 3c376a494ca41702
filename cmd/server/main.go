package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/omgupta81/Smartbridge/internal/api"
	"github.com/omgupta81/Smartbridge/internal/config"
	"github.com/omgupta81/Smartbridge/internal/persist"
	"github.com/omgupta81/Smartbridge/internal/store"
	mongostore "github.com/omgupta81/Smartbridge/internal/store/mongo"
	sqlitestore "github.com/omgupta81/Smartbridge/internal/store/sqlite"
	"github.com/omgupta81/Smartbridge/internal/ws"
)

func main() {
	cfg := config.Load()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	st, err := openStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize session store")
	}
	defer st.Close()

	persister := persist.New(st)
	hub := ws.NewHub(st, persister)
	apiHandler := api.New(hub, st)

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/sessions", apiHandler.SessionsRouter)
	http.HandleFunc("/api/sessions/", apiHandler.SessionsRouter)

	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logrus.Info("Shutting down server...")
		persister.Stop()
		st.Close()
		os.Exit(0)
	}()

	logrus.WithFields(logrus.Fields{
		"addr":  cfg.Addr,
		"store": cfg.StoreDriver,
	}).Info("Server starting")
	logrus.Info("Endpoints:")
	logrus.Info("  - WebSocket: /ws")
	logrus.Info("  - Health:    GET /health")
	logrus.Info("  - Stats:     GET /api/stats")
	logrus.Info("  - Sessions:  POST /api/sessions")
	logrus.Info("  - Session:   GET/PUT /api/sessions/{roomId}")
	logrus.Info("  - Files:     GET/PUT /api/sessions/{roomId}/files")

	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		logrus.WithError(err).Fatal("ListenAndServe")
	}
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		return mongostore.New(context.Background(), cfg.MongoURI, cfg.MongoDB)
	default:
		return sqlitestore.New(cfg.SQLitePath)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
