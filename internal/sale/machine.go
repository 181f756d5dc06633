// Package sale drives a spoken transcript from interpretation through
// disambiguation to a confirmed sale. The machine is UI-independent: it
// owns the phase transitions, the selection invariant, and the advisory
// prompts, while rendering is left to whoever observes it.
package sale

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/salestalk-labs/salestalk-core/internal/nlp"
	"github.com/salestalk-labs/salestalk-core/internal/protocol"
	"github.com/salestalk-labs/salestalk-core/internal/salebus"
	"github.com/salestalk-labs/salestalk-core/internal/speak"
)

// Phase is the machine's position in the capture cycle.
type Phase int

const (
	PhaseAwaitingInterpretation Phase = iota
	PhaseAwaitingSelection
	PhaseReadyToConfirm
	PhaseConfirming
	PhaseConfirmed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingInterpretation:
		return "awaiting_interpretation"
	case PhaseAwaitingSelection:
		return "awaiting_selection"
	case PhaseReadyToConfirm:
		return "ready_to_confirm"
	case PhaseConfirming:
		return "confirming"
	case PhaseConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Interpreter is the slice of the nlp client the machine needs.
type Interpreter interface {
	Interpret(ctx context.Context, text string, candidateHints []string) (nlp.Interpretation, error)
	ConfirmSale(ctx context.Context, req nlp.ConfirmRequest) (protocol.SaleCreated, error)
}

const (
	promptAmbiguous = "Hay varios productos que coinciden. Por favor elige uno."
	promptSuccess   = "Venta registrada correctamente."
)

// ambiguousFailure matches confirmation errors that mean the product could
// not be resolved server-side, in either language the backend answers in.
var ambiguousFailure = regexp.MustCompile(`(?i)(not found|does not exist|ambig|could not resolve|no existe|no encontrado|no se encontr|no se pudo resolver)`)

// Machine is one voice sale capture cycle. Confirm is only permitted with a
// selected product; a failed confirmation keeps the selection so the user
// can retry.
type Machine struct {
	client   Interpreter
	speaker  speak.Speaker
	notifier *salebus.Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	phase     Phase
	interp    *nlp.Interpretation
	selected  string
	lastError string
}

func NewMachine(client Interpreter, speaker speak.Speaker, notifier *salebus.Notifier, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if speaker == nil {
		speaker = speak.Silent{}
	}
	return &Machine{
		client:   client,
		speaker:  speaker,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "sale")),
	}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Interpretation returns the current result, or nil before the first one.
func (m *Machine) Interpretation() *nlp.Interpretation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interp
}

// Candidates returns the current interpretation's candidates ranked against
// the spoken product name, best match first.
func (m *Machine) Candidates() []nlp.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interp == nil {
		return nil
	}
	return nlp.RankCandidates(m.interp.Entities.ProductName, m.interp.CandidateList())
}

// Submit interprets a finalized transcript and applies the result. The new
// interpretation fully replaces any previous one.
func (m *Machine) Submit(ctx context.Context, text string, candidateHints []string) (nlp.Interpretation, error) {
	interp, err := m.client.Interpret(ctx, text, candidateHints)
	if err != nil {
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
		return nlp.Interpretation{}, err
	}
	m.Apply(ctx, interp)
	return interp, nil
}

// Apply installs an interpretation result. A resolved or auto-selectable
// product moves straight to ready-to-confirm; an ambiguous one presents the
// candidate list and voices the advisory exactly once per result.
func (m *Machine) Apply(ctx context.Context, interp nlp.Interpretation) {
	m.mu.Lock()
	m.interp = &interp
	m.selected = ""
	m.lastError = ""

	if interp.Intent != nlp.IntentCreateSale {
		m.phase = PhaseAwaitingInterpretation
		m.mu.Unlock()
		m.logger.Debug("interpretation is not a sale", slog.String("intent", string(interp.Intent)))
		return
	}

	if id, ok := interp.AutoSelect(); ok {
		m.selected = id
		m.phase = PhaseReadyToConfirm
		m.mu.Unlock()
		return
	}

	m.phase = PhaseAwaitingSelection
	m.mu.Unlock()

	if interp.Ambiguous() {
		if err := m.speaker.Say(ctx, promptAmbiguous); err != nil {
			m.logger.Warn("advisory prompt failed", slog.Any("error", err))
		}
	}
}

// Select records a manual candidate choice.
func (m *Machine) Select(productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if productID == "" {
		return &nlp.ValidationError{Reason: "no product selected"}
	}
	if m.phase != PhaseAwaitingSelection && m.phase != PhaseReadyToConfirm {
		return fmt.Errorf("cannot select a product while %s", m.phase)
	}
	m.selected = productID
	m.phase = PhaseReadyToConfirm
	return nil
}

// Confirm issues the confirmation call. The selection invariant is enforced
// here even if the caller bypassed the selection flow. On success the sale
// is broadcast exactly once and the machine parks in the confirmed phase;
// on failure the selection and interpretation survive for a retry.
func (m *Machine) Confirm(ctx context.Context) (protocol.SaleCreated, error) {
	m.mu.Lock()
	if m.phase == PhaseConfirming {
		m.mu.Unlock()
		return protocol.SaleCreated{}, fmt.Errorf("confirmation already in progress")
	}
	if m.selected == "" {
		m.mu.Unlock()
		return protocol.SaleCreated{}, &nlp.ValidationError{Reason: "no product selected"}
	}
	req := m.buildRequestLocked()
	m.phase = PhaseConfirming
	m.mu.Unlock()

	sale, err := m.client.ConfirmSale(ctx, req)
	if err != nil {
		m.mu.Lock()
		m.phase = PhaseReadyToConfirm
		m.lastError = err.Error()
		m.mu.Unlock()

		if ambiguousFailure.MatchString(err.Error()) {
			if sayErr := m.speaker.Say(ctx, promptAmbiguous); sayErr != nil {
				m.logger.Warn("advisory prompt failed", slog.Any("error", sayErr))
			}
		}
		return protocol.SaleCreated{}, err
	}

	m.mu.Lock()
	m.phase = PhaseConfirmed
	m.lastError = ""
	m.mu.Unlock()

	if m.notifier != nil {
		m.notifier.Emit(sale)
	}
	if err := m.speaker.Say(ctx, promptSuccess); err != nil {
		m.logger.Warn("success prompt failed", slog.Any("error", err))
	}
	m.logger.Info("sale confirmed",
		slog.String("sale_id", sale.ID),
		slog.String("product_id", sale.ProductID),
		slog.Int("quantity", sale.Quantity))
	return sale, nil
}

// buildRequestLocked derives the confirmation payload from the current
// interpretation: quantity defaults to one, the payment method is
// normalized onto the fixed enumeration, and the date passes through
// untouched. Caller holds m.mu.
func (m *Machine) buildRequestLocked() nlp.ConfirmRequest {
	req := nlp.ConfirmRequest{
		ProductID:     m.selected,
		Quantity:      1,
		PaymentMethod: nlp.PaymentCash,
	}
	if m.interp == nil {
		return req
	}
	if m.interp.Entities.Quantity > 0 {
		req.Quantity = m.interp.Entities.Quantity
	}
	method, recognized := nlp.NormalizePayment(m.interp.Entities.PaymentMethod)
	req.PaymentMethod = method
	if !recognized && m.interp.Entities.PaymentMethod != "" {
		// Defaulting masks a possible misinterpretation; keep a trace.
		m.logger.Warn("unrecognized payment method, defaulting to cash",
			slog.String("reported", m.interp.Entities.PaymentMethod))
	}
	if m.interp.Entities.Date != "" {
		date := m.interp.Entities.Date
		req.Date = &date
	}
	return req
}

// Reset starts a new capture cycle: no interpretation, no selection, back
// to awaiting interpretation.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.phase = PhaseAwaitingInterpretation
	m.interp = nil
	m.selected = ""
	m.lastError = ""
	m.mu.Unlock()
}
