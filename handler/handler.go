package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acs-lambda/delete-user/internal/domain"
	"github.com/acs-lambda/delete-user/internal/integrations/corsprovider"
	"github.com/acs-lambda/delete-user/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type UseCase interface {
	DeleteUser(ctx context.Context, in usecase.DeleteUserInput) (domain.DeletionOutcome, error)
}

type deleteUserRequest struct {
	ID string `json:"id" validate:"required"`
}

type deletedCounts struct {
	Conversations int `json:"conversations"`
	Threads       int `json:"threads"`
}

type deleteUserResponse struct {
	Message       string        `json:"message"`
	DeletedCounts deletedCounts `json:"deletedCounts"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Handler adapts API Gateway proxy events to the delete-user use case.
type Handler struct {
	uc       UseCase
	cors     corsprovider.Provider
	log      *zap.Logger
	validate *validator.Validate
}

func NewHandler(uc UseCase, cors corsprovider.Provider, log *zap.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if cors == nil {
		cors = corsprovider.Static(corsprovider.DefaultHeaders())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{uc: uc, cors: cors, log: log, validate: validator.New()}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With(zap.String("correlation_id", correlationID))
	headers := h.responseHeaders(ctx, event, correlationID, log)

	if event.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Headers: headers}, nil
	}

	req, err := h.parseRequest(event)
	if err != nil {
		log.Info("rejecting delete user request", zap.Error(err))
		return jsonResponse(http.StatusBadRequest, headers, errorResponse{
			Message: "Request body must be a JSON object with a non-empty \"id\"",
			Error:   string(usecase.ErrorBadRequest),
		}), nil
	}

	out, err := h.uc.DeleteUser(ctx, usecase.DeleteUserInput{UserID: req.ID})
	if err != nil {
		status, body := mapError(err)
		fields := []zap.Field{zap.String("user_id", req.ID), zap.Int("status", status), zap.Error(err)}
		if status < http.StatusInternalServerError {
			log.Warn("delete user rejected", fields...)
		} else {
			log.Error("delete user failed", fields...)
		}
		return jsonResponse(status, headers, body), nil
	}

	return jsonResponse(http.StatusOK, headers, deleteUserResponse{
		Message: "User deleted successfully",
		DeletedCounts: deletedCounts{
			Conversations: out.Conversations,
			Threads:       out.Threads,
		},
	}), nil
}

func (h *Handler) parseRequest(event events.APIGatewayProxyRequest) (deleteUserRequest, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return deleteUserRequest{}, err
		}
		body = decoded
	}

	var req deleteUserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return deleteUserRequest{}, err
	}
	req.ID = strings.TrimSpace(req.ID)
	if err := h.validate.Struct(req); err != nil {
		return deleteUserRequest{}, err
	}
	return req, nil
}

func (h *Handler) responseHeaders(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string, log *zap.Logger) map[string]string {
	cors, err := h.cors.Headers(ctx, event)
	if err != nil {
		log.Warn("cors headers unavailable, using defaults", zap.Error(err))
		cors = corsprovider.DefaultHeaders()
	}
	headers := make(map[string]string, len(cors)+2)
	for k, v := range cors {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	headers[correlationHeader] = correlationID
	return headers
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Message: "Internal server error", Error: string(usecase.ErrorInternal)}
	}

	body := errorResponse{Message: messageFor(ucErr.Code), Error: string(ucErr.Code)}
	switch {
	case ucErr.Code == usecase.ErrorBadRequest:
		return http.StatusBadRequest, body
	case ucErr.Code.IsNotFound():
		return http.StatusNotFound, body
	default:
		return http.StatusInternalServerError, body
	}
}

func messageFor(code usecase.ErrorCode) string {
	switch code {
	case usecase.ErrorBadRequest:
		return "Invalid request"
	case usecase.ErrorNotFound:
		return "User not found"
	case usecase.ErrorIdentityNotFound:
		return "User not found in identity directory"
	case usecase.ErrorDataIntegrity:
		return "User profile is missing an email address"
	case usecase.ErrorQueryFailed:
		return "Failed to query user records"
	case usecase.ErrorIdentityDeleteFailed:
		return "Failed to delete user from identity directory"
	case usecase.ErrorCascadeDeleteFailed:
		return "Failed to delete user conversations and threads"
	case usecase.ErrorProfileDeleteFailed:
		return "Failed to delete user profile"
	default:
		return "Internal server error"
	}
}

func jsonResponse(status int, headers map[string]string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"message":"Internal server error","error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(body)}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
