package nlp

import "strings"

// Intent is the coarse classification of a spoken command.
type Intent string

const (
	IntentCreateSale Intent = "create_sale"
	IntentListSales  Intent = "list_sales"
	IntentHelp       Intent = "help"
	IntentUnknown    Intent = "unknown"
)

func parseIntent(raw string) Intent {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "crear_venta", "create_sale", "createsale":
		return IntentCreateSale
	case "listar_ventas", "list_sales", "listsales":
		return IntentListSales
	case "ayuda", "help":
		return IntentHelp
	default:
		return IntentUnknown
	}
}

// Candidate is one product the interpreter believes may match the spoken
// reference. IDs are unique within one interpretation's list and are not
// cached across results.
type Candidate struct {
	ID    string
	Name  string
	Score *float64
}

// Entities are the structured slots extracted from the transcript. Zero
// values mean the slot was absent.
type Entities struct {
	ProductID     string
	ProductName   string
	Quantity      int
	PaymentMethod string
	Date          string
	Candidates    []Candidate
}

// Interpretation is one immutable result from the interpretation service.
// A new interpretation fully replaces the previous one; nothing is merged.
type Interpretation struct {
	Intent            Intent
	Confidence        float64
	Entities          Entities
	Notes             []string
	NeedsConfirmation bool
	Candidates        []Candidate
}

// CandidateList returns the interpretation's candidates: the top-level list
// when present, otherwise the one embedded in the entities.
func (i Interpretation) CandidateList() []Candidate {
	if len(i.Candidates) > 0 {
		return i.Candidates
	}
	return i.Entities.Candidates
}

// Ambiguous reports whether product resolution needs manual confirmation:
// the service said so explicitly, an advisory note flags ambiguity, or the
// entities lack a product id and the candidate list size is not exactly one.
func (i Interpretation) Ambiguous() bool {
	if i.NeedsConfirmation {
		return true
	}
	for _, note := range i.Notes {
		if strings.Contains(strings.ToLower(note), "ambig") {
			return true
		}
	}
	if i.Entities.ProductID != "" {
		return false
	}
	return len(i.CandidateList()) != 1
}

// AutoSelect resolves the product without manual input when possible: an
// explicit product id always wins; otherwise a lone candidate with an id is
// chosen automatically.
func (i Interpretation) AutoSelect() (string, bool) {
	if i.Entities.ProductID != "" {
		return i.Entities.ProductID, true
	}
	list := i.CandidateList()
	if len(list) == 1 && list[0].ID != "" {
		return list[0].ID, true
	}
	return "", false
}

// wire types mirror the service's JSON exactly.

type wireCandidate struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Score *float64 `json:"score,omitempty"`
}

type wireEntities struct {
	ProductID     string          `json:"product_id,omitempty"`
	ProductName   string          `json:"product_name,omitempty"`
	Quantity      int             `json:"quantity,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Date          string          `json:"date,omitempty"`
	Candidates    []wireCandidate `json:"_candidates,omitempty"`
}

type wireInterpretation struct {
	Intent            string          `json:"intent"`
	Confidence        float64         `json:"confidence"`
	Entities          wireEntities    `json:"entities"`
	Notes             []string        `json:"notes"`
	NeedsConfirmation bool            `json:"needs_confirmation"`
	Candidates        []wireCandidate `json:"candidates,omitempty"`
}

func fromWireCandidates(in []wireCandidate) []Candidate {
	if len(in) == 0 {
		return nil
	}
	out := make([]Candidate, len(in))
	for idx, c := range in {
		out[idx] = Candidate{ID: c.ID, Name: c.Name, Score: c.Score}
	}
	return out
}

func fromWire(w wireInterpretation) Interpretation {
	return Interpretation{
		Intent:            parseIntent(w.Intent),
		Confidence:        w.Confidence,
		Entities: Entities{
			ProductID:     w.Entities.ProductID,
			ProductName:   w.Entities.ProductName,
			Quantity:      w.Entities.Quantity,
			PaymentMethod: w.Entities.PaymentMethod,
			Date:          w.Entities.Date,
			Candidates:    fromWireCandidates(w.Entities.Candidates),
		},
		Notes:             w.Notes,
		NeedsConfirmation: w.NeedsConfirmation,
		Candidates:        fromWireCandidates(w.Candidates),
	}
}
