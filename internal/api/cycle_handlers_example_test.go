package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/store"
)

// ExampleCycleHandler_ListCycles shows how to serve the /api/cycles endpoint.
func ExampleCycleHandler_ListCycles() {
	c := sampleCycle()
	c.Stats = store.CycleStats{}
	c.FinishedAt = nil
	c.Status = store.CycleRunning
	c.CatalogEntries = 0

	srv := NewServer(nil, &fakeCycleRepo{cycles: []store.Cycle{c}}, Options{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/cycles?status=running", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	fmt.Println(rec.Code)
	fmt.Print(rec.Body.String())
	// Output:
	// 200
	// {"cycles":[{"id":"0190c9a8-0000-7000-8000-000000000001","started_at":"2024-05-01T12:00:00Z","status":"running","stats":{"pages":0,"page_errors":0,"links":0,"invites":0,"dropped":0},"catalog_entries":0}]}
}
