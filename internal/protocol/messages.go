package protocol

import "time"

// StreamControl is a JSON text frame received from the streaming
// transcription socket. Audio travels client->server as raw binary
// s16le 16kHz mono frames; control messages travel server->client.
type StreamControl struct {
	Type  string `json:"type"` // partial, final, error
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

const (
	ControlPartial = "partial"
	ControlFinal   = "final"
	ControlError   = "error"
)

// SaleCreated mirrors the confirmation backend's sale payload and is the
// body published on the bus when a sale is confirmed.
type SaleCreated struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	PaymentMethod string    `json:"payment_method"`
	Date          string    `json:"date"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SubjectSaleCreated     = "sale.created"
	SubjectTranscriptFinal = "capture.transcript.final"
)
