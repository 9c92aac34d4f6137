package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	routingKey string
	headers    map[string]string
	err        error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, routingKey string, _ interface{}, headers map[string]string) error {
	p.routingKey = routingKey
	p.headers = headers
	return p.err
}

func TestNewLoggerJSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "production").Info("chat ready", "port", "8080")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "chat ready", line["msg"])
	assert.Equal(t, "8080", line["port"])
}

func TestNewLoggerDevLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "dev").Debug("hub registered")
	assert.Contains(t, buf.String(), "hub registered")

	buf.Reset()
	newLogger(&buf, "prod").Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r1", "trace_id": "t1"}, BuildHeaders("r1", "t1"))
}

func TestPublishEvent(t *testing.T) {
	t.Cleanup(func() { SetPublisher(nil) })

	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), "ws_events.chats", EventEnvelope{}, nil))

	pub := &recordingPublisher{}
	SetPublisher(pub)
	require.NoError(t, PublishEvent(context.Background(), "ws_events.chats", EventEnvelope{EventName: "ws_connect"}, BuildHeaders("r1", "")))
	assert.Equal(t, "ws_events.chats", pub.routingKey)
	assert.Equal(t, "r1", pub.headers["x-request-id"])

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	pub.err = errors.New("channel closed")
	assert.Error(t, PublishEvent(context.Background(), "ws_events.chats", EventEnvelope{}, nil))
	assert.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
}

func TestHTTPMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/api/v1/chats/:chatId", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/chats/:chatId", "200")
	before := testutil.ToFloat64(counter)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/chats/abc", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))
}
