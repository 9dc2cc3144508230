package main

// Build the API Lambda binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"medsnap-backend/internal/bootstrap"
	"medsnap-backend/internal/shared/config"
	"medsnap-backend/internal/shared/server/respond"
	"medsnap-backend/internal/shared/telemetry"
)

// apiProxy builds the MedSnap router lazily. A failed build is not cached,
// so the next invocation on a warm container tries again.
type apiProxy struct {
	build func() (*gin.Engine, error)

	mu      sync.Mutex
	adapter *ginadapter.GinLambdaV2
}

func (p *apiProxy) router() (*ginadapter.GinLambdaV2, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adapter != nil {
		return p.adapter, nil
	}
	engine, err := p.build()
	if err != nil {
		return nil, err
	}
	p.adapter = ginadapter.NewV2(engine)
	return p.adapter, nil
}

func (p *apiProxy) handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	adapter, err := p.router()
	if err != nil {
		telemetry.Error("lambda.api.bootstrap_failed", map[string]any{
			"error":      err.Error(),
			"route_key":  req.RouteKey,
			"request_id": req.RequestContext.RequestID,
		})
		return startupFailure(), nil
	}
	return adapter.ProxyWithContext(ctx, req)
}

// startupFailure mirrors the respond.Error envelope so clients see one error shape.
func startupFailure() events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{
		Code:    "service_unavailable",
		Message: "MedSnap is starting up, retry shortly",
	}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Cache-Control": "no-store",
			"Retry-After":   "1",
		},
	}
}

func buildRouter() (*gin.Engine, error) {
	app, err := bootstrap.Build(config.Load())
	if err != nil {
		return nil, err
	}
	return app.Router, nil
}

func main() {
	proxy := &apiProxy{build: buildRouter}
	lambda.Start(proxy.handle)
}
