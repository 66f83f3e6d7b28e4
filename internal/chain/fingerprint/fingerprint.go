// Package fingerprint implements the deterministic hash, verification URL and
// QR payload of the integrity chain.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/shopspring/decimal"
)

// Input is the exact field set entering the hash. Field order and formatting
// are fixed by the wire contract and must never change.
type Input struct {
	IssuerTaxID         string
	Label               string
	IssueDate           time.Time
	KindTag             string
	TaxAmount           decimal.Decimal
	TotalAmount         decimal.Decimal
	PreviousFingerprint string
}

const (
	hashDateLayout = "02-01-2006"
	urlDateLayout  = "02012006"

	// QRSize is the edge length in pixels of generated QR images.
	QRSize = 256
)

// Payload renders the ordered key=value concatenation fed to the hash.
//
// This function is PURE:
// - No side effects
// - Fully deterministic
func Payload(in Input) string {
	var b strings.Builder
	b.WriteString("IDEmisorFactura=")
	b.WriteString(in.IssuerTaxID)
	b.WriteString("&NumSerieFactura=")
	b.WriteString(in.Label)
	b.WriteString("&FechaExpedicionFactura=")
	b.WriteString(in.IssueDate.Format(hashDateLayout))
	b.WriteString("&TipoFactura=")
	b.WriteString(in.KindTag)
	b.WriteString("&CuotaTotal=")
	b.WriteString(in.TaxAmount.StringFixed(2))
	b.WriteString("&ImporteTotal=")
	b.WriteString(in.TotalAmount.StringFixed(2))
	b.WriteString("&Reservado=")
	b.WriteString("&Huella=")
	b.WriteString(in.PreviousFingerprint)
	return b.String()
}

// Compute returns the base64 encoding of the SHA-256 digest over the payload.
func Compute(in Input) string {
	sum := sha256.Sum256([]byte(Payload(in)))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerificationURL builds the public lookup URL for one document. The date is
// rendered as ddMMyyyy and the amount with two decimals; both differ from the
// hash payload formats on purpose.
func VerificationURL(base, issuerTaxID, label string, issueDate time.Time, total decimal.Decimal) string {
	q := url.Values{}
	q.Set("nif", issuerTaxID)
	q.Set("num", label)
	q.Set("fecha", issueDate.Format(urlDateLayout))
	q.Set("importe", total.StringFixed(2))
	return base + "?" + q.Encode()
}

// QRPNG encodes the verification URL as a PNG QR image.
func QRPNG(verificationURL string) ([]byte, error) {
	code, err := qr.Encode(verificationURL, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, QRSize, QRSize)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("render qr png: %w", err)
	}
	return buf.Bytes(), nil
}
