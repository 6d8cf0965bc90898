// Command testserver serves the stampede test fixture: deterministic status
// and latency endpoints plus a small linked HTML site to crawl.
//
// Usage:
//
//	testserver [--host localhost] [--port 8080]
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"stampede/testserver"
)

var endpoints = []struct{ route, help string }{
	{"GET  /health", "health check"},
	{"GET  /status/{code}", "respond with the given status code"},
	{"GET  /delay/{ms}", "respond after ms milliseconds"},
	{"POST /echo", "echo the request body"},
	{"GET  /random-delay", "random delay (?min=50&max=200)"},
	{"GET  /fail-rate", "fail a share of requests with 500 (?rate=10)"},
	{"GET  /json", "JSON document with request metadata"},
	{"GET  /headers", "request headers as JSON"},
	{"GET  /redirect/{n}", "redirect n times, then /health"},
	{"GET  /gzip", "gzip-encoded HTML page"},
	{"GET  /site/", "linked HTML site for discover mode"},
}

func main() {
	host := pflag.String("host", "localhost", "host to bind to")
	port := pflag.Int("port", 8080, "port to listen on")
	pflag.Parse()

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           testserver.NewServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Printf("stampede test server listening on http://%s\n\n", addr)
	for _, e := range endpoints {
		fmt.Printf("  %-22s %s\n", e.route, e.help)
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
