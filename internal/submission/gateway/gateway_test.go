package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/skarecito/verifactu/internal/clock"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func submitRequest() submissiondomain.SubmitRequest {
	return submissiondomain.SubmitRequest{
		DocumentID:          snowflake.ID(424242),
		IssuerTaxID:         "B12345678",
		CounterpartTaxID:    "X0000000T",
		Label:               "A2025-001",
		IssueDate:           time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		KindTag:             "F1",
		TaxBase:             decimal.NewFromInt(100),
		TaxAmount:           decimal.NewFromInt(21),
		TotalAmount:         decimal.NewFromInt(121),
		Fingerprint:         "hash",
		PreviousFingerprint: "prev",
	}
}

func TestLiveGatewayAccepted(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<RespuestaRegistro><CSV>CSV123</CSV><EstadoRegistro>Correcto</EstadoRegistro><CodigoRespuesta>0</CodigoRespuesta></RespuestaRegistro>`))
	}))
	defer server.Close()

	gw := NewLiveGateway(server.URL, 5*time.Second, zap.NewNop())
	result, err := gw.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	assert.Equal(t, submissiondomain.StatusAccepted, result.Status)
	assert.Equal(t, "CSV123", result.CSV)
	assert.Equal(t, "0", result.ResponseCode)

	envelope := string(received)
	assert.Contains(t, envelope, "<IDEmisorFactura>B12345678</IDEmisorFactura>")
	assert.Contains(t, envelope, "<NumSerieFactura>A2025-001</NumSerieFactura>")
	assert.Contains(t, envelope, "<FechaExpedicionFactura>07-03-2025</FechaExpedicionFactura>")
	assert.Contains(t, envelope, "<TipoFactura>F1</TipoFactura>")
	assert.Contains(t, envelope, "<CuotaTotal>21.00</CuotaTotal>")
	assert.Contains(t, envelope, "<ImporteTotal>121.00</ImporteTotal>")
	assert.Contains(t, envelope, "<Huella>hash</Huella>")
	assert.Contains(t, envelope, "<RegistroAnterior>")
	assert.Contains(t, envelope, "<Destinatario>")
	assert.Contains(t, envelope, "<NIF>X0000000T</NIF>")

	assert.Equal(t, envelope, result.RawRequest)
	assert.Contains(t, result.RawResponse, "<CSV>CSV123</CSV>")
}

func TestLiveGatewayOmitsCounterpartWhenAbsent(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`<RespuestaRegistro><CodigoRespuesta>0</CodigoRespuesta></RespuestaRegistro>`))
	}))
	defer server.Close()

	req := submitRequest()
	req.CounterpartTaxID = ""
	req.KindTag = "F2"

	gw := NewLiveGateway(server.URL, 5*time.Second, zap.NewNop())
	_, err := gw.Submit(context.Background(), req)
	require.NoError(t, err)

	envelope := string(received)
	assert.NotContains(t, envelope, "<Destinatario>")
	assert.Contains(t, envelope, "<TipoFactura>F2</TipoFactura>")
}

func TestLiveGatewayFirstRecordEnvelope(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`<RespuestaRegistro><CodigoRespuesta>0</CodigoRespuesta></RespuestaRegistro>`))
	}))
	defer server.Close()

	req := submitRequest()
	req.PreviousFingerprint = ""

	gw := NewLiveGateway(server.URL, 5*time.Second, zap.NewNop())
	_, err := gw.Submit(context.Background(), req)
	require.NoError(t, err)

	envelope := string(received)
	assert.Contains(t, envelope, "<PrimerRegistro>S</PrimerRegistro>")
	assert.NotContains(t, envelope, "<RegistroAnterior>")
}

func TestLiveGatewayRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<RespuestaRegistro><EstadoRegistro>Incorrecto</EstadoRegistro><CodigoRespuesta>3001</CodigoRespuesta><DescripcionError>duplicado</DescripcionError></RespuestaRegistro>`))
	}))
	defer server.Close()

	gw := NewLiveGateway(server.URL, 5*time.Second, zap.NewNop())
	result, err := gw.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	assert.Equal(t, submissiondomain.StatusRejected, result.Status)
	assert.Equal(t, "3001", result.ResponseCode)
	assert.Equal(t, "duplicado", result.ResponseMessage)
}

func TestLiveGatewayHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gw := NewLiveGateway(server.URL, 5*time.Second, zap.NewNop())
	result, err := gw.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	assert.Equal(t, submissiondomain.StatusError, result.Status)
	assert.Contains(t, result.ResponseMessage, "502")
}

func TestLiveGatewayUnparseableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not-xml"))
	}))
	defer server.Close()

	gw := NewLiveGateway(server.URL, 5*time.Second, zap.NewNop())
	result, err := gw.Submit(context.Background(), submitRequest())
	require.NoError(t, err)
	assert.Equal(t, submissiondomain.StatusError, result.Status)
}

func TestLiveGatewayTransportError(t *testing.T) {
	gw := NewLiveGateway("http://127.0.0.1:1", time.Second, zap.NewNop())
	result, err := gw.Submit(context.Background(), submitRequest())
	require.NoError(t, err)
	assert.Equal(t, submissiondomain.StatusError, result.Status)
	assert.NotEmpty(t, result.ResponseMessage)
}

func TestSimulatedGateway(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC))
	gw := NewSimulatedGateway(clk, zap.NewNop())

	result, err := gw.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	assert.Equal(t, submissiondomain.StatusAccepted, result.Status)
	assert.Equal(t, "0", result.ResponseCode)
	assert.Contains(t, result.CSV, "SIM-")
	assert.Contains(t, result.CSV, "424242")
	assert.NotContains(t, result.CSV, "A2025-001")

	assert.Contains(t, result.RawRequest, "<NumSerieFactura>A2025-001</NumSerieFactura>")
	assert.Contains(t, result.RawResponse, result.CSV)
}
