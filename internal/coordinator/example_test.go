package coordinator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"stampede/internal/collector"
	"stampede/internal/coordinator"
	"stampede/internal/core"
	httpexec "stampede/internal/http"
	"stampede/internal/source"
	"stampede/internal/stop"
)

func ExampleNewCoordinator() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// Create collector and executor
	c := collector.NewCollector()
	client := httpexec.NewClient(httpexec.ClientOptions{ConnectTimeout: time.Second, Concurrency: 2})
	exec := httpexec.NewExecutor(client, httpexec.Options{Timeout: 3 * time.Second}, nil)

	// Two workers, stop after exactly 10 requests
	coord := coordinator.NewCoordinator(coordinator.Config{
		Concurrency: 2,
		Source:      source.NewSingle(core.WorkItem{URL: srv.URL, Method: http.MethodGet}),
		Executor:    exec,
		Reporter:    c,
		Stop:        stop.NewController(stop.Options{MaxRequests: 10}),
	})

	if err := coord.Run(context.Background()); err != nil {
		fmt.Println("run failed:", err)
		return
	}
	c.Close()

	m := c.Compute()
	fmt.Printf("requests: %d, status 204: %d\n", m.TotalRequests, m.StatusCodes[http.StatusNoContent])
	// Output: requests: 10, status 204: 10
}
