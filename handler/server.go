package handler

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/integrations/gateway"
)

const WebhookPath = "/webhook/yampi"

// StatusSource reports the chat session state shown on the status page.
type StatusSource interface {
	Status() gateway.Status
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
{{if not .Ready}}<meta http-equiv="refresh" content="3">{{end}}
<title>Status do Bot</title>
<style>body{font-family:sans-serif;text-align:center;padding:40px}</style>
</head>
<body>
{{if .Ready}}
<h1>✅ Bot Conectado com Sucesso!</h1>
<p>Você pode fechar esta página.</p>
{{else if .QR}}
<h1>Escaneie o QR Code abaixo:</h1>
<img src="{{.QR}}" width="300" alt="QR Code">
{{else}}
<h1>Aguardando QR Code...</h1>
<p>O sistema está iniciando. Aguarde...</p>
{{end}}
</body>
</html>
`))

type statusView struct {
	Ready bool
	QR    template.URL
}

// Server exposes the webhook, status page, health and metrics over HTTP.
type Server struct {
	app     *fiber.App
	webhook *Handler
	status  StatusSource
	logger  zerolog.Logger
	started time.Time
}

func NewServer(webhook *Handler, status StatusSource, logger zerolog.Logger) (*Server, error) {
	if webhook == nil {
		return nil, errors.New("handler: webhook must not be nil")
	}
	if status == nil {
		return nil, errors.New("handler: status source must not be nil")
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "cart-recovery-agent",
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
		}),
		webhook: webhook,
		status:  status,
		logger:  logger.With().Str("component", "http").Logger(),
		started: time.Now(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.app.Get("/", s.statusPage)
	s.app.Get("/health", s.health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	s.app.Post(WebhookPath, s.commerceWebhook)
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	return s.app.Listen(addr)
}

func (s *Server) ShutdownWithContext(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) statusPage(c *fiber.Ctx) error {
	st := s.status.Status()
	view := statusView{Ready: st.Ready}
	if !st.Ready && st.QR != "" {
		view.QR = template.URL(st.QR)
	}
	var buf bytes.Buffer
	if err := statusPage.Execute(&buf, view); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(buf.Bytes())
}

func (s *Server) health(c *fiber.Ctx) error {
	st := s.status.Status()
	return c.JSON(fiber.Map{
		"status":    "ok",
		"gateway":   st.Connected,
		"ready":     st.Ready,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Unix(),
	})
}

// commerceWebhook runs the webhook handler on an API Gateway shaped copy of
// the fiber request.
func (s *Server) commerceWebhook(c *fiber.Ctx) error {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})
	req := events.APIGatewayProxyRequest{
		HTTPMethod: c.Method(),
		Path:       c.Path(),
		Headers:    headers,
		Body:       string(c.Body()),
	}

	resp, err := s.webhook.Handle(c.UserContext(), req)
	if err != nil {
		return err
	}
	for k, v := range resp.Headers {
		c.Set(k, v)
	}
	return c.Status(resp.StatusCode).SendString(resp.Body)
}
