package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/instrumentation/httpclient"
	"github.com/GriffinCanCode/AgentOS/sensor/internal/sensor"
	"github.com/gin-gonic/gin"
)

func main() {
	// Parse flags
	addr := flag.String("addr", ":8080", "Demo application listen address")
	status := flag.Bool("status", false, "Enable the sensor status server")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *status {
		cfg.Status.Enabled = true
	}

	s, err := sensor.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create sensor: %v", err)
	}
	s.Start()

	client := httpclient.Client(s.Tracer(), nil)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.Middleware())

	router.GET("/hello", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "hello"})
	})
	router.GET("/fetch", func(c *gin.Context) {
		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, c.Query("url"), nil)
		if err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			c.AbortWithError(http.StatusBadGateway, err)
			return
		}
		defer resp.Body.Close()
		n, _ := io.Copy(io.Discard, resp.Body)
		c.JSON(http.StatusOK, gin.H{"status": resp.StatusCode, "bytes": n})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down gracefully...")
	case err := <-errChan:
		log.Printf("Server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during sensor shutdown: %v", err)
	}
}
