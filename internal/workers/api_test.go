package workers

import (
	"Lantern/internal/test"
	"Lantern/pkg/log"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTaskAPI(t *testing.T) {
	pool := newTestPool(t, 1, map[string]ExecutorFunc{
		"backtest": echo,
		"features": func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, errors.New("boom") },
	})
	router := test.MockRouter()
	APIHandlers(router, pool, NewController(log.Nop()), []string{"backtest", "features", "montecarlo"}, log.Nop())

	w := test.ExecuteAPITest(t, router, test.RequestAPITest{
		Method:       "POST",
		Path:         "/api/backtest/run",
		Body:         strings.NewReader(`{"strategy":"mean-reversion"}`),
		WantResponse: []int{http.StatusOK},
	})
	var result Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "backtest", result.TaskType)
	assert.JSONEq(t, `{"strategy":"mean-reversion"}`, string(result.Output))

	// Empty bodies become an empty document
	test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "POST", Path: "/api/backtest/run", WantResponse: []int{http.StatusOK}})

	test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "POST", Path: "/api/backtest/run", Body: strings.NewReader("{"), WantResponse: []int{http.StatusBadRequest}})
	test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "POST", Path: "/api/features/run", WantResponse: []int{http.StatusInternalServerError}})
	test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "POST", Path: "/api/montecarlo/run", WantResponse: []int{http.StatusNotFound}})

	pool.PauseNew()
	test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "POST", Path: "/api/backtest/run", WantResponse: []int{http.StatusServiceUnavailable}})
}

func TestWorkersStatusAPI(t *testing.T) {
	pool := newTestPool(t, 1, map[string]ExecutorFunc{"backtest": echo, "features": echo})
	controller := NewController(log.Nop())
	controller.Register(pool)
	router := test.MockRouter()
	APIHandlers(router, pool, controller, []string{"backtest", "features"}, log.Nop())

	status := func() Status {
		w := test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "GET", Path: "/api/ops/workers", WantResponse: []int{http.StatusOK}})
		var s Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
		return s
	}

	s := status()
	assert.False(t, s.Paused)
	assert.Zero(t, s.Running)
	assert.Equal(t, []TaskStatus{{Type: "backtest", Heavy: true}, {Type: "features", Heavy: false}}, s.Tasks)

	controller.Pause(context.Background())
	assert.True(t, status().Paused)
}
