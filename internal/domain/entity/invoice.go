package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// Status estado del ciclo de vida de la NF-e.
type Status string

const (
	StatusDraft        Status = "draft"        // Creada, todavía no editada
	StatusEditing      Status = "editing"      // En edición
	StatusSigning      Status = "signing"      // Firma en curso o XML firmado pendiente de envío
	StatusTransmitting Status = "transmitting" // Enviada o pendiente de reenvío a la SEFAZ
	StatusAuthorized   Status = "authorized"   // Autorizada (cStat 100/150)
	StatusRejected     Status = "rejected"     // Rechazada o denegada
	StatusCancelled    Status = "cancelled"    // Cancelada por evento 110111
)

// Valid indica si el estado es conocido.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusEditing, StatusSigning, StatusTransmitting,
		StatusAuthorized, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Tipos de evento del historial.
const (
	EventAuthorization = "authorization"
	EventRejection     = "rejection"
	EventCancellation  = "cancellation"
	EventCorrection    = "correction"
	EventImport        = "import"
)

// Event evento registrado en el historial de la NF-e.
type Event struct {
	ID        string
	Type      string
	Sequence  int // nSeqEvento para eventos SEFAZ
	Timestamp time.Time
	Detail    string // justificación, texto de corrección o motivo
	Protocol  string // nProt emitido por la SEFAZ
	XML       string // procEventoNFe o envío firmado
}

// Adjustments valores a nivel de nota que se suman o restan del total de productos.
type Adjustments struct {
	Freight   decimal.Decimal
	Insurance decimal.Decimal
	Discount  decimal.Decimal
	Other     decimal.Decimal
}

// Totals totales de la NF-e (grupo ICMSTot).
type Totals struct {
	ICMSBase    decimal.Decimal
	ICMSValue   decimal.Decimal
	ICMSCredit  decimal.Decimal
	Products    decimal.Decimal
	Freight     decimal.Decimal
	Insurance   decimal.Decimal
	Discount    decimal.Decimal
	Other       decimal.Decimal
	IPIValue    decimal.Decimal
	PISValue    decimal.Decimal
	COFINSValue decimal.Decimal
	GrandTotal  decimal.Decimal // vNF, nunca negativo
}

// Payment forma de pago (detPag).
type Payment struct {
	Method string // tPag
	Amount decimal.Decimal
}

// Invoice agregado de la NF-e.
type Invoice struct {
	ID        string
	CompanyID string

	Number            int
	Series            int
	IssueDate         time.Time
	Environment       nfe.Environment
	NatureOfOperation string // natOp
	Purpose           string // finNFe
	OperationType     string // tpNF
	FinalConsumer     bool
	FreightMode       string // modFrete

	Issuer    Party
	Recipient Party
	Items     []LineItem
	Payments  []Payment
	Remarks   string // infCpl

	Adjustments   Adjustments
	Totals        Totals
	TotalsClamped bool // el total resultó negativo y se llevó a cero

	Status        Status
	AccessKey     string
	ControlCode   string // cNF
	SignedXML     string
	AuthorizedXML string // nfeProc
	Protocol      string // nProt de autorización
	StatusCode    int    // último cStat recibido
	StatusReason  string // último xMotivo recibido
	Events        []Event

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Editable indica si el contenido de la nota puede modificarse.
func (inv *Invoice) Editable() bool {
	return inv.Status == StatusDraft || inv.Status == StatusEditing
}

// EventsOfType devuelve los eventos de un tipo en orden de registro.
func (inv *Invoice) EventsOfType(eventType string) []Event {
	var out []Event
	for _, e := range inv.Events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ElementID atributo Id de infNFe.
func (inv *Invoice) ElementID() string {
	return nfe.IDPrefix + inv.AccessKey
}
