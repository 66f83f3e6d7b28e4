package gateway

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/skarecito/verifactu/internal/clock"
	submissiondomain "github.com/skarecito/verifactu/internal/submission/domain"
	"go.uber.org/zap"
)

// SimulatedGateway acknowledges every record locally without touching the
// network. It produces the same result shape as the live gateway so callers
// cannot tell the modes apart.
type SimulatedGateway struct {
	clock clock.Clock
	delay time.Duration
	log   *zap.Logger
}

func NewSimulatedGateway(clk clock.Clock, log *zap.Logger) *SimulatedGateway {
	return &SimulatedGateway{
		clock: clk,
		delay: 10 * time.Millisecond,
		log:   log.Named("submission.gateway.simulated"),
	}
}

func (g *SimulatedGateway) Mode() string { return "simulated" }

func (g *SimulatedGateway) Submit(ctx context.Context, req submissiondomain.SubmitRequest) (submissiondomain.SubmitResult, error) {
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return submissiondomain.SubmitResult{}, ctx.Err()
		case <-time.After(g.delay):
		}
	}

	csv := fmt.Sprintf("SIM-%d-%s", g.clock.Now().UTC().Unix(), req.DocumentID.String())
	g.log.Debug("simulated acknowledgement", zap.String("label", req.Label), zap.String("csv", csv))

	// Same artifact shape as the live exchange so the attempt trail reads
	// identically in both modes.
	rawRequest := ""
	if envelope, err := buildEnvelope(req); err == nil {
		rawRequest = string(envelope)
	}
	rawResponse := ""
	if body, err := xml.Marshal(respuestaRegistro{
		CSV:             csv,
		EstadoRegistro:  "Correcto",
		CodigoRespuesta: "0",
	}); err == nil {
		rawResponse = string(body)
	}

	return submissiondomain.SubmitResult{
		Status:       submissiondomain.StatusAccepted,
		CSV:          csv,
		ResponseCode: "0",
		RawRequest:   rawRequest,
		RawResponse:  rawResponse,
	}, nil
}
