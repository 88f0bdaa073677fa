package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/menu_backend/adminapi"
	"github.com/mmdatafocus/menu_backend/bootstrap"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/possync"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen first and answer 503 until the resolver is wired.
	var ready atomic.Pointer[http.Handler]
	srv := &http.Server{
		Addr: ":" + port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h := ready.Load(); h != nil {
				(*h).ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/healthz" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	app, err := bootstrap.Open(sigCtx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "bootstrap"}).Fatal(err)
	}
	defer app.Close()

	router, api := adminapi.NewServer(app.Engine, app.Matcher, app.Pool, app.Store, logger).NewRouter()

	if strings.TrimSpace(os.Getenv("POS_API_BASE_URL")) != "" {
		client, err := possync.NewClientFromEnv()
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "possync"}).Fatal(err)
		}
		worker := possync.NewWorker(app.DB, app.Pool, client, os.Getenv("POS_SOURCE"))
		possync.Register(api.Group("/pos"), worker)
		// Pub/Sub push endpoint for the sync worker.
		router.POST("/pubsub/pos-sync", possync.PubSubPushHandler(worker))
	}

	var handler http.Handler = router
	ready.Store(&handler)
	logger.WithFields(logrus.Fields{"field": "server", "port": port}).Info("menu resolver ready")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}
