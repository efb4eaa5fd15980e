package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auction-lifecycle/internal/app"
	"auction-lifecycle/internal/bus"
	"auction-lifecycle/internal/clock"
	"auction-lifecycle/internal/config"
	"auction-lifecycle/internal/models"
	"auction-lifecycle/internal/repository"
	"auction-lifecycle/services/helpers"
	"auction-lifecycle/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	utils.SetLogOutput(io.Discard)
	gin.SetMode(gin.TestMode)
}

var startTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		PollInterval:     time.Hour,
		TickBudget:       5 * time.Second,
		CallTimeout:      time.Second,
		BatchSize:        50,
		RelayGrace:       30 * time.Second,
		PublishTimeout:   time.Second,
		ProjectorStripes: 8,
	}
}

// TestStack is the whole service on in-memory stores with a running bus.
type TestStack struct {
	App     *app.App
	Router  http.Handler
	Repo    *repository.MemoryRepo
	Replica *repository.MemoryReplica
	Bus     *bus.MemoryBus
	Clock   *clock.Manual
}

// SetupTestStack assembles the service and runs its bus until the test ends.
func SetupTestStack(t *testing.T, opts ...bus.MemoryOption) *TestStack {
	t.Helper()

	s := &TestStack{
		Repo:    repository.NewMemoryRepo(),
		Replica: repository.NewMemoryReplica(),
		Bus:     bus.NewMemoryBus(bus.RetryPolicy{MaxDeliveries: 3, Backoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, 4, opts...),
		Clock:   clock.NewManual(startTime),
	}
	s.App = app.Assemble(testConfig(), app.Deps{
		Auctions: s.Repo,
		Ledger:   s.Repo,
		Outbox:   s.Repo,
		Replica:  s.Replica,
		Bus:      s.Bus,
		Clock:    s.Clock,
	})
	s.Router = s.App.Router()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

// Drain waits until every published event has been handled or parked.
func (s *TestStack) Drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Bus.Drain(ctx))
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router http.Handler, method, url, user string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	case []byte:
		reqBody = v
	default:
		reqBody, err = json.Marshal(v)
		require.NoError(t, err, "failed to marshal body")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(helpers.UserHeader, user)
	}
	router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "failed to unmarshal response")
	}
	return resp, w
}

// Data returns the "data" object of a response
func Data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", resp)
	return data
}

// CreateAuction creates an auction through the API and returns its id.
func CreateAuction(t *testing.T, s *TestStack, seller string, item models.Item, end time.Time) string {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, s.Router, http.MethodPost, "/api/auctions", seller, map[string]any{
		"reserve_price": 100,
		"auction_end":   end.Format(time.RFC3339),
		"make":          item.Make,
		"model":         item.Model,
		"color":         item.Color,
		"mileage":       item.Mileage,
		"year":          item.Year,
	})
	require.Equal(t, http.StatusCreated, w.Code, "create failed: %v", resp)
	return Data(t, resp)["id"].(string)
}

func sampleItem() models.Item {
	return models.Item{Make: "Ford", Model: "Mustang", Color: "Red", Mileage: 12000, Year: 2019}
}
