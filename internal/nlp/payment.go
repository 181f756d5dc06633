package nlp

import "strings"

// PaymentMethod is the fixed enumeration the confirmation endpoint accepts.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "Cash"
	PaymentCard         PaymentMethod = "Card"
	PaymentYape         PaymentMethod = "Yape"
	PaymentPlin         PaymentMethod = "Plin"
	PaymentBankTransfer PaymentMethod = "BankTransfer"
)

// paymentSynonyms maps spoken forms, Spanish and English, onto the
// enumeration. Matching is case-insensitive on the trimmed input.
var paymentSynonyms = map[string]PaymentMethod{
	"cash":                   PaymentCash,
	"efectivo":               PaymentCash,
	"card":                   PaymentCard,
	"tarjeta":                PaymentCard,
	"credito":                PaymentCard,
	"crédito":                PaymentCard,
	"debito":                 PaymentCard,
	"débito":                 PaymentCard,
	"yape":                   PaymentYape,
	"plin":                   PaymentPlin,
	"transfer":               PaymentBankTransfer,
	"transferencia":          PaymentBankTransfer,
	"transferencia bancaria": PaymentBankTransfer,
	"banktransfer":           PaymentBankTransfer,
	"bank transfer":          PaymentBankTransfer,
}

// NormalizePayment maps a reported payment string onto the enumeration.
// Unrecognized values fall back to Cash; the second return value reports
// whether the input was actually recognized, so callers can surface an
// advisory instead of silently masking a misheard method.
func NormalizePayment(raw string) (PaymentMethod, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return PaymentCash, false
	}
	if method, ok := paymentSynonyms[key]; ok {
		return method, true
	}
	if method, ok := paymentSynonyms[strings.ReplaceAll(key, "_", " ")]; ok {
		return method, true
	}
	return PaymentCash, false
}
