package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func status(s Status) Check {
	return func(context.Context) ComponentHealth { return ComponentHealth{Status: s} }
}

func TestReportTakesWorstStatus(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("index", status(StatusUp))
	assert.Equal(t, StatusUp, c.Run(context.Background()).Status)

	c.Register("cache", status(StatusDegraded))
	assert.Equal(t, StatusDegraded, c.Run(context.Background()).Status)

	c.Register("corpus", status(StatusDown))
	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	require.Len(t, report.Components, 3)
	assert.NotEmpty(t, report.Components["index"].Latency)
}

func TestChecksAreBoundedByTimeout(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		return ComponentHealth{Status: StatusDown, Message: ctx.Err().Error()}
	})
	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Components["slow"].Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("cache", status(StatusDegraded))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("index", status(StatusDown))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"down"`)
}
