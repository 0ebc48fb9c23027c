package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type CampaignStarter interface {
	Start(ctx context.Context, in usecase.CampaignInput) (usecase.CampaignOutput, error)
}

type campaignResponse struct {
	Status      string `json:"status"`
	CustomerKey string `json:"customerKey,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves the commerce webhook in the API Gateway proxy event shape,
// so the same code runs behind fiber or a Lambda.
type Handler struct {
	campaign CampaignStarter
	logger   zerolog.Logger
}

func NewHandler(campaign CampaignStarter, logger zerolog.Logger) (*Handler, error) {
	if campaign == nil {
		return nil, errors.New("handler: campaign must not be nil")
	}
	return &Handler{campaign: campaign, logger: logger.With().Str("component", "webhook").Logger()}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	log := h.logger.With().Str("correlation_id", corrID).Logger()

	in, err := parseCommerceEvent(req.Body)
	if err != nil {
		log.Warn().Err(err).Msg("malformed commerce payload")
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Message: "Payload inválido",
		}), nil
	}

	out, err := h.campaign.Start(ctx, in)
	if err != nil {
		var uerr *usecase.Error
		if !errors.As(err, &uerr) {
			log.Error().Err(err).Msg("campaign failed")
			return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{
				Error:   string(usecase.ErrorInternal),
				Message: "Erro Interno",
			}), nil
		}
		switch uerr.Code {
		case usecase.ErrorIgnored:
			return jsonResponse(http.StatusOK, corrID, campaignResponse{Status: "Ignored"}), nil
		case usecase.ErrorInvalidInput:
			log.Warn().Str("reason", uerr.Reason).Msg("campaign rejected")
			return jsonResponse(http.StatusBadRequest, corrID, errorResponse{
				Error:   string(uerr.Code),
				Message: messageFor(uerr.Reason),
			}), nil
		default:
			log.Error().Err(err).Msg("campaign failed")
			return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{
				Error:   string(usecase.ErrorInternal),
				Message: "Erro Interno",
			}), nil
		}
	}

	log.Info().Str("customer_key", out.CustomerKey).Msg("campaign accepted")
	return jsonResponse(http.StatusOK, corrID, campaignResponse{Status: "OK", CustomerKey: out.CustomerKey}), nil
}

func messageFor(reason string) string {
	if reason == "missing_phone" {
		return "Sem telefone"
	}
	return "Payload inválido"
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","message":"Erro Interno"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}
