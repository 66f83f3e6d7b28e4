// Package gateway implements transmission to the tax authority in live and
// simulated modes.
package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"go.uber.org/zap"
)

const envelopeDateLayout = "02-01-2006"

type registroAlta struct {
	XMLName        xml.Name `xml:"RegistroAlta"`
	IDVersion      string   `xml:"IDVersion"`
	IDFactura      idFactura
	TipoFactura    string `xml:"TipoFactura"`
	Destinatario   *destinatario
	BaseImponible  string `xml:"BaseImponible"`
	CuotaTotal     string `xml:"CuotaTotal"`
	ImporteTotal   string `xml:"ImporteTotal"`
	Encadenamiento encadenamiento
	Huella         string `xml:"Huella"`
}

type idFactura struct {
	XMLName                xml.Name `xml:"IDFactura"`
	IDEmisorFactura        string   `xml:"IDEmisorFactura"`
	NumSerieFactura        string   `xml:"NumSerieFactura"`
	FechaExpedicionFactura string   `xml:"FechaExpedicionFactura"`
}

type destinatario struct {
	XMLName xml.Name `xml:"Destinatario"`
	NIF     string   `xml:"NIF"`
}

type encadenamiento struct {
	XMLName          xml.Name `xml:"Encadenamiento"`
	PrimerRegistro   string   `xml:"PrimerRegistro,omitempty"`
	RegistroAnterior *registroAnterior
}

type registroAnterior struct {
	XMLName xml.Name `xml:"RegistroAnterior"`
	Huella  string   `xml:"Huella"`
}

type respuestaRegistro struct {
	XMLName          xml.Name `xml:"RespuestaRegistro"`
	CSV              string   `xml:"CSV"`
	EstadoRegistro   string   `xml:"EstadoRegistro"`
	CodigoRespuesta  string   `xml:"CodigoRespuesta"`
	DescripcionError string   `xml:"DescripcionError"`
}

// LiveGateway posts the XML envelope to the authority endpoint. The HTTP
// client carries a hard timeout so a stalled authority cannot wedge the relay
// worker.
type LiveGateway struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

func NewLiveGateway(endpoint string, timeout time.Duration, log *zap.Logger) *LiveGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LiveGateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log.Named("submission.gateway.live"),
	}
}

func (g *LiveGateway) Mode() string { return "live" }

func (g *LiveGateway) Submit(ctx context.Context, req submissiondomain.SubmitRequest) (submissiondomain.SubmitResult, error) {
	envelope, err := buildEnvelope(req)
	if err != nil {
		return errorResult(err, "", ""), nil
	}
	rawRequest := string(envelope)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return errorResult(err, rawRequest, ""), nil
	}
	httpReq.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.log.Warn("authority request failed", zap.String("label", req.Label), zap.Error(err))
		return errorResult(err, rawRequest, ""), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errorResult(err, rawRequest, ""), nil
	}
	rawResponse := string(body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorResult(fmt.Errorf("authority returned http %d", resp.StatusCode), rawRequest, rawResponse), nil
	}

	var parsed respuestaRegistro
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return errorResult(fmt.Errorf("parse authority response: %w", err), rawRequest, rawResponse), nil
	}

	result := submissiondomain.SubmitResult{
		CSV:             parsed.CSV,
		ResponseCode:    parsed.CodigoRespuesta,
		ResponseMessage: parsed.DescripcionError,
		RawRequest:      rawRequest,
		RawResponse:     rawResponse,
	}
	if parsed.CodigoRespuesta == "0" {
		result.Status = submissiondomain.StatusAccepted
	} else {
		result.Status = submissiondomain.StatusRejected
		if result.ResponseMessage == "" {
			result.ResponseMessage = parsed.EstadoRegistro
		}
	}
	return result, nil
}

func buildEnvelope(req submissiondomain.SubmitRequest) ([]byte, error) {
	record := registroAlta{
		IDVersion: "1.0",
		IDFactura: idFactura{
			IDEmisorFactura:        req.IssuerTaxID,
			NumSerieFactura:        req.Label,
			FechaExpedicionFactura: req.IssueDate.Format(envelopeDateLayout),
		},
		TipoFactura:   req.KindTag,
		BaseImponible: req.TaxBase.StringFixed(2),
		CuotaTotal:    req.TaxAmount.StringFixed(2),
		ImporteTotal:  req.TotalAmount.StringFixed(2),
		Huella:        req.Fingerprint,
	}
	if req.CounterpartTaxID != "" {
		record.Destinatario = &destinatario{NIF: req.CounterpartTaxID}
	}
	if req.PreviousFingerprint == "" {
		record.Encadenamiento = encadenamiento{PrimerRegistro: "S"}
	} else {
		record.Encadenamiento = encadenamiento{
			RegistroAnterior: &registroAnterior{Huella: req.PreviousFingerprint},
		}
	}

	body, err := xml.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func errorResult(err error, rawRequest, rawResponse string) submissiondomain.SubmitResult {
	return submissiondomain.SubmitResult{
		Status:          submissiondomain.StatusError,
		ResponseMessage: err.Error(),
		RawRequest:      rawRequest,
		RawResponse:     rawResponse,
	}
}
