package echoapi_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roxnlabs/mentora/services/monitor"
)

func Test_monitorAPI(t *testing.T) {
	app := setup(t)

	t.Run("home", func(t *testing.T) {
		rec := app.serve(httpTest{method: http.MethodGet, path: "/"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Welcome to Mentora API!", rec.Body.String())
	})

	t.Run("health", func(t *testing.T) {
		rec := app.serve(httpTest{method: http.MethodGet, path: "/health"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var report monitor.HealthReport
		decode(t, rec, &report)
		assert.Equal(t, monitor.StatusOK, report.Status)
		assert.Contains(t, report.Checks, "database")
	})

	t.Run("status", func(t *testing.T) {
		rec := app.serve(httpTest{method: http.MethodGet, path: "/status"})
		require.Equal(t, http.StatusOK, rec.Code)
		var report monitor.StatusReport
		decode(t, rec, &report)
		assert.Equal(t, "Mentora", report.App)
		assert.Equal(t, "TEST", report.Env)
	})

	t.Run("metrics", func(t *testing.T) {
		app.serve(httpTest{method: http.MethodGet, path: "/api/users/me"}) // 401
		app.serve(httpTest{method: http.MethodGet, path: "/nope"})         // 404

		rec := app.serve(httpTest{method: http.MethodGet, path: "/metrics"})
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.True(t, strings.Contains(body, `route="/api/users/me"`), "matched route recorded")
		assert.True(t, strings.Contains(body, `route="unmatched"`), "unmatched route recorded")
		assert.True(t, strings.Contains(body, `status="401"`), "final status recorded")
	})
}
