package corsprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"
)

// Provider returns the CORS headers to attach to a response for req.
type Provider interface {
	Headers(ctx context.Context, req events.APIGatewayProxyRequest) (map[string]string, error)
}

// DefaultHeaders is the header set used when no remote provider answers.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":      "*",
		"Access-Control-Allow-Methods":     "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers":     "Content-Type, Authorization, X-Correlation-Id",
		"Access-Control-Allow-Credentials": "true",
	}
}

// Static always answers with the same headers.
type Static map[string]string

func (s Static) Headers(context.Context, events.APIGatewayProxyRequest) (map[string]string, error) {
	return maps.Clone(map[string]string(s)), nil
}

// lambdaAPI is the minimal Lambda interface required by Remote.
type lambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Remote asks another Lambda function for the headers, sending it the raw
// inbound request as the invocation payload.
type Remote struct {
	api          lambdaAPI
	functionName string
}

func NewRemote(api lambdaAPI, functionName string) (*Remote, error) {
	if api == nil {
		return nil, errors.New("corsprovider: api must not be nil")
	}
	functionName = strings.TrimSpace(functionName)
	if functionName == "" {
		return nil, errors.New("corsprovider: function name must not be empty")
	}
	return &Remote{api: api, functionName: functionName}, nil
}

// remotePayload accepts either {"headers": {...}} or a flat header object.
type remotePayload struct {
	Headers map[string]string `json:"headers"`
}

func (r *Remote) Headers(ctx context.Context, req events.APIGatewayProxyRequest) (map[string]string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("corsprovider: marshal request: %w", err)
	}

	out, err := r.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(r.functionName),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("corsprovider: invoke %q: %w", r.functionName, err)
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("corsprovider: %q returned function error %s: %s", r.functionName, aws.ToString(out.FunctionError), string(out.Payload))
	}

	headers, err := decodeHeaders(out.Payload)
	if err != nil {
		return nil, fmt.Errorf("corsprovider: decode %q response: %w", r.functionName, err)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("corsprovider: %q returned no headers", r.functionName)
	}
	return headers, nil
}

func decodeHeaders(raw []byte) (map[string]string, error) {
	var wrapped remotePayload
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Headers) > 0 {
		return wrapped.Headers, nil
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// Fallback answers from primary and switches to secondary whenever primary
// fails. It never returns an error unless both do.
type Fallback struct {
	primary   Provider
	secondary Provider
	log       *zap.Logger
}

func NewFallback(primary, secondary Provider, log *zap.Logger) (*Fallback, error) {
	if primary == nil || secondary == nil {
		return nil, errors.New("corsprovider: providers must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log}, nil
}

func (f *Fallback) Headers(ctx context.Context, req events.APIGatewayProxyRequest) (map[string]string, error) {
	headers, err := f.primary.Headers(ctx, req)
	if err == nil {
		return headers, nil
	}
	f.log.Warn("cors provider unavailable, using fallback headers", zap.Error(err))
	return f.secondary.Headers(ctx, req)
}
