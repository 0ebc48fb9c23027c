package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"cart-recovery-agent/internal/integrations/gateway"
	"cart-recovery-agent/internal/usecase"
)

type stubStatus struct {
	st gateway.Status
}

func (s stubStatus) Status() gateway.Status { return s.st }

func newTestServer(t *testing.T, uc CampaignStarter, st gateway.Status) *Server {
	t.Helper()
	h, err := NewHandler(uc, zerolog.Nop())
	require.NoError(t, err)
	s, err := NewServer(h, stubStatus{st: st}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewServer_Validates(t *testing.T) {
	_, err := NewServer(nil, stubStatus{}, zerolog.Nop())
	require.Error(t, err)

	h, err := NewHandler(&stubCampaign{}, zerolog.Nop())
	require.NoError(t, err)
	_, err = NewServer(h, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestServer_Webhook(t *testing.T) {
	uc := &stubCampaign{out: usecase.CampaignOutput{CustomerKey: "5511999990000"}}
	s := newTestServer(t, uc, gateway.Status{})

	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(abandonedCheckout))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "corr-9")
	resp, err := s.App().Test(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "corr-9", resp.Header.Get("X-Correlation-Id"))
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Contains(t, readAll(t, resp), `"customerKey":"5511999990000"`)
	require.Equal(t, "5511999990000", uc.in.Phone)
}

func TestServer_WebhookMissingPhone(t *testing.T) {
	uc := &stubCampaign{err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_phone"}}
	s := newTestServer(t, uc, gateway.Status{})

	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(`{"event":"checkout.abandoned","resource":{}}`))
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, readAll(t, resp), "Sem telefone")
}

func TestServer_StatusPage(t *testing.T) {
	cases := []struct {
		name    string
		st      gateway.Status
		want    string
		refresh bool
	}{
		{name: "ready", st: gateway.Status{Connected: true, Ready: true}, want: "Bot Conectado com Sucesso!"},
		{name: "pairing", st: gateway.Status{Connected: true, QR: "data:image/png;base64,QUJD"}, want: `src="data:image/png;base64,QUJD"`, refresh: true},
		{name: "waiting", st: gateway.Status{}, want: "Aguardando QR Code...", refresh: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &stubCampaign{}, tc.st)
			resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Contains(t, resp.Header.Get("Content-Type"), "text/html")

			body := readAll(t, resp)
			require.Contains(t, body, tc.want)
			require.Equal(t, tc.refresh, strings.Contains(body, `http-equiv="refresh"`))
		})
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &stubCampaign{}, gateway.Status{Connected: true})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readAll(t, resp)
	require.Contains(t, body, `"status":"ok"`)
	require.Contains(t, body, `"gateway":true`)

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, readAll(t, resp), "go_goroutines")
}
