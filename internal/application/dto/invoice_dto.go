package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// Regímenes de la unión ICMS en JSON.
const (
	RegimeNormal  = "normal"
	RegimeSimples = "simples"
)

// AddressDTO dirección en JSON.
type AddressDTO struct {
	Street           string `json:"street"`
	Number           string `json:"number"`
	Complement       string `json:"complement,omitempty"`
	District         string `json:"district"`
	MunicipalityCode string `json:"municipality_code"`
	Municipality     string `json:"municipality"`
	UF               string `json:"uf"`
	PostalCode       string `json:"postal_code"`
	CountryCode      string `json:"country_code,omitempty"`
	Country          string `json:"country,omitempty"`
	Phone            string `json:"phone,omitempty"`
}

// PartyDTO emisor o destinatario.
type PartyDTO struct {
	CNPJ              string     `json:"cnpj"`
	Name              string     `json:"name"`
	TradeName         string     `json:"trade_name,omitempty"`
	StateRegistration string     `json:"state_registration,omitempty"`
	IEIndicator       string     `json:"ie_indicator,omitempty"`
	CRT               int        `json:"crt,omitempty"`
	Email             string     `json:"email,omitempty"`
	Address           AddressDTO `json:"address"`
}

// ICMSDTO unión etiquetada por Regime: normal usa CST/Rate/BaseReduction, simples usa CSOSN/CreditRate.
type ICMSDTO struct {
	Regime        string          `json:"regime"`
	CST           string          `json:"cst,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	BaseReduction decimal.Decimal `json:"base_reduction"`
	CSOSN         string          `json:"csosn,omitempty"`
	CreditRate    decimal.Decimal `json:"credit_rate"`
}

// ContributionDTO PIS o COFINS.
type ContributionDTO struct {
	CST  string          `json:"cst"`
	Rate decimal.Decimal `json:"rate"`
}

// IPIDTO IPI de un ítem.
type IPIDTO struct {
	CST     string          `json:"cst,omitempty"`
	Rate    decimal.Decimal `json:"rate"`
	EnqCode string          `json:"enq_code,omitempty"`
}

// TaxValuesDTO valores calculados (solo lectura para el cliente).
type TaxValuesDTO struct {
	ICMSBase    decimal.Decimal `json:"icms_base"`
	ICMSValue   decimal.Decimal `json:"icms_value"`
	ICMSCredit  decimal.Decimal `json:"icms_credit"`
	PISBase     decimal.Decimal `json:"pis_base"`
	PISValue    decimal.Decimal `json:"pis_value"`
	COFINSBase  decimal.Decimal `json:"cofins_base"`
	COFINSValue decimal.Decimal `json:"cofins_value"`
	IPIBase     decimal.Decimal `json:"ipi_base"`
	IPIValue    decimal.Decimal `json:"ipi_value"`
}

// LineItemDTO ítem de la nota.
type LineItemDTO struct {
	Number      int             `json:"number"`
	ProductCode string          `json:"product_code"`
	EAN         string          `json:"ean,omitempty"`
	Description string          `json:"description"`
	NCM         string          `json:"ncm"`
	CFOP        string          `json:"cfop"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
	Origin      string          `json:"origin,omitempty"`
	ICMS        ICMSDTO         `json:"icms"`
	PIS         ContributionDTO `json:"pis"`
	COFINS      ContributionDTO `json:"cofins"`
	IPI         IPIDTO          `json:"ipi"`
	Computed    TaxValuesDTO    `json:"computed"`
}

// AdjustmentsDTO flete, seguro, descuento y otros a nivel de nota.
type AdjustmentsDTO struct {
	Freight   decimal.Decimal `json:"freight"`
	Insurance decimal.Decimal `json:"insurance"`
	Discount  decimal.Decimal `json:"discount"`
	Other     decimal.Decimal `json:"other"`
}

// TotalsDTO grupo ICMSTot.
type TotalsDTO struct {
	ICMSBase    decimal.Decimal `json:"icms_base"`
	ICMSValue   decimal.Decimal `json:"icms_value"`
	ICMSCredit  decimal.Decimal `json:"icms_credit"`
	Products    decimal.Decimal `json:"products"`
	Freight     decimal.Decimal `json:"freight"`
	Insurance   decimal.Decimal `json:"insurance"`
	Discount    decimal.Decimal `json:"discount"`
	Other       decimal.Decimal `json:"other"`
	IPIValue    decimal.Decimal `json:"ipi_value"`
	PISValue    decimal.Decimal `json:"pis_value"`
	COFINSValue decimal.Decimal `json:"cofins_value"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
}

// PaymentDTO forma de pago.
type PaymentDTO struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// EventDTO evento del historial.
type EventDTO struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Sequence  int       `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
	XML       string    `json:"xml,omitempty"`
}

// InvoiceDTO forma completa de la NF-e intercambiada con clientes y guardada como payload.
type InvoiceDTO struct {
	ID                string         `json:"id"`
	CompanyID         string         `json:"company_id"`
	Number            int            `json:"number"`
	Series            int            `json:"series"`
	IssueDate         time.Time      `json:"issue_date"`
	Environment       string         `json:"environment"`
	NatureOfOperation string         `json:"nature_of_operation"`
	Purpose           string         `json:"purpose,omitempty"`
	OperationType     string         `json:"operation_type,omitempty"`
	FinalConsumer     bool           `json:"final_consumer"`
	FreightMode       string         `json:"freight_mode,omitempty"`
	Issuer            PartyDTO       `json:"issuer"`
	Recipient         PartyDTO       `json:"recipient"`
	Items             []LineItemDTO  `json:"items"`
	Payments          []PaymentDTO   `json:"payments"`
	Remarks           string         `json:"remarks,omitempty"`
	Adjustments       AdjustmentsDTO `json:"adjustments"`
	Totals            TotalsDTO      `json:"totals"`
	TotalsClamped     bool           `json:"totals_clamped"`
	Status            string         `json:"status"`
	AccessKey         string         `json:"access_key,omitempty"`
	ControlCode       string         `json:"control_code,omitempty"`
	SignedXML         string         `json:"signed_xml,omitempty"`
	AuthorizedXML     string         `json:"authorized_xml,omitempty"`
	Protocol          string         `json:"protocol,omitempty"`
	StatusCode        int            `json:"status_code,omitempty"`
	StatusReason      string         `json:"status_reason,omitempty"`
	Events            []EventDTO     `json:"events"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// InvoiceSummaryDTO fila de listado.
type InvoiceSummaryDTO struct {
	ID            string          `json:"id"`
	Number        int             `json:"number"`
	Series        int             `json:"series"`
	IssueDate     time.Time       `json:"issue_date"`
	RecipientName string          `json:"recipient_name"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Status        string          `json:"status"`
	AccessKey     string          `json:"access_key,omitempty"`
}

// InvoiceListResponse página del listado GET /api/nfe/invoices.
type InvoiceListResponse struct {
	Items []InvoiceSummaryDTO `json:"items"`
	Page  PageResponse        `json:"page"`
}

// InvoiceInput body de POST/PUT /api/nfe/invoices. Los totales siempre se recalculan
// en el servidor; el emisor sale del perfil de la sesión.
type InvoiceInput struct {
	Series            int            `json:"series,omitempty"`
	IssueDate         *time.Time     `json:"issue_date,omitempty"`
	NatureOfOperation string         `json:"nature_of_operation"`
	Purpose           string         `json:"purpose,omitempty"`
	OperationType     string         `json:"operation_type,omitempty"`
	FinalConsumer     bool           `json:"final_consumer"`
	FreightMode       string         `json:"freight_mode,omitempty"`
	Recipient         PartyDTO       `json:"recipient"`
	Items             []LineItemDTO  `json:"items"`
	Payments          []PaymentDTO   `json:"payments"`
	Adjustments       AdjustmentsDTO `json:"adjustments"`
	Remarks           string         `json:"remarks,omitempty"`
}

// CancelRequest body de /cancel (además del certificado multipart).
type CancelRequest struct {
	Justification string `json:"justification"`
}

// CorrectionRequest body de /correction.
type CorrectionRequest struct {
	Text string `json:"text"`
}

// ImportResponse resultado de una importación.
type ImportResponse struct {
	Created bool       `json:"created"`
	Invoice InvoiceDTO `json:"invoice"`
}

// ── Mapeo agregado <-> JSON ──────────────────────────────────────────────────

// ToInvoiceDTO convierte el agregado a su forma JSON.
func ToInvoiceDTO(inv *entity.Invoice) InvoiceDTO {
	out := InvoiceDTO{
		ID:                inv.ID,
		CompanyID:         inv.CompanyID,
		Number:            inv.Number,
		Series:            inv.Series,
		IssueDate:         inv.IssueDate,
		Environment:       string(inv.Environment),
		NatureOfOperation: inv.NatureOfOperation,
		Purpose:           inv.Purpose,
		OperationType:     inv.OperationType,
		FinalConsumer:     inv.FinalConsumer,
		FreightMode:       inv.FreightMode,
		Issuer:            toPartyDTO(inv.Issuer),
		Recipient:         toPartyDTO(inv.Recipient),
		Items:             make([]LineItemDTO, 0, len(inv.Items)),
		Payments:          make([]PaymentDTO, 0, len(inv.Payments)),
		Remarks:           inv.Remarks,
		Adjustments: AdjustmentsDTO{
			Freight: inv.Adjustments.Freight, Insurance: inv.Adjustments.Insurance,
			Discount: inv.Adjustments.Discount, Other: inv.Adjustments.Other,
		},
		Totals:        TotalsDTO(inv.Totals),
		TotalsClamped: inv.TotalsClamped,
		Status:        string(inv.Status),
		AccessKey:     inv.AccessKey,
		ControlCode:   inv.ControlCode,
		SignedXML:     inv.SignedXML,
		AuthorizedXML: inv.AuthorizedXML,
		Protocol:      inv.Protocol,
		StatusCode:    inv.StatusCode,
		StatusReason:  inv.StatusReason,
		Events:        make([]EventDTO, 0, len(inv.Events)),
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
	for _, it := range inv.Items {
		out.Items = append(out.Items, toLineItemDTO(it))
	}
	for _, p := range inv.Payments {
		out.Payments = append(out.Payments, PaymentDTO{Method: p.Method, Amount: p.Amount})
	}
	for _, e := range inv.Events {
		out.Events = append(out.Events, EventDTO(e))
	}
	return out
}

// ToSummaryDTO fila de listado.
func ToSummaryDTO(inv *entity.Invoice) InvoiceSummaryDTO {
	return InvoiceSummaryDTO{
		ID: inv.ID, Number: inv.Number, Series: inv.Series, IssueDate: inv.IssueDate,
		RecipientName: inv.Recipient.Name, GrandTotal: inv.Totals.GrandTotal,
		Status: string(inv.Status), AccessKey: inv.AccessKey,
	}
}

// ToEntity reconstruye el agregado completo (payload persistido).
func (d InvoiceDTO) ToEntity() (*entity.Invoice, error) {
	inv := &entity.Invoice{
		ID:                d.ID,
		CompanyID:         d.CompanyID,
		Number:            d.Number,
		Series:            d.Series,
		IssueDate:         d.IssueDate,
		Environment:       nfe.Environment(d.Environment),
		NatureOfOperation: d.NatureOfOperation,
		Purpose:           d.Purpose,
		OperationType:     d.OperationType,
		FinalConsumer:     d.FinalConsumer,
		FreightMode:       d.FreightMode,
		Issuer:            d.Issuer.ToEntity(),
		Recipient:         d.Recipient.ToEntity(),
		Remarks:           d.Remarks,
		Adjustments:       d.Adjustments.ToEntity(),
		Totals:            entity.Totals(d.Totals),
		TotalsClamped:     d.TotalsClamped,
		Status:            entity.Status(d.Status),
		AccessKey:         d.AccessKey,
		ControlCode:       d.ControlCode,
		SignedXML:         d.SignedXML,
		AuthorizedXML:     d.AuthorizedXML,
		Protocol:          d.Protocol,
		StatusCode:        d.StatusCode,
		StatusReason:      d.StatusReason,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if !inv.Status.Valid() {
		return nil, fmt.Errorf("estado desconocido %q", d.Status)
	}
	items, err := ItemsToEntity(d.Items)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	inv.Payments = PaymentsToEntity(d.Payments)
	for _, e := range d.Events {
		inv.Events = append(inv.Events, entity.Event(e))
	}
	return inv, nil
}

// ToEntity convierte la dirección.
func (a AddressDTO) ToEntity() entity.Address {
	return entity.Address(a)
}

// ToEntity convierte la parte.
func (p PartyDTO) ToEntity() entity.Party {
	return entity.Party{
		CNPJ: p.CNPJ, Name: p.Name, TradeName: p.TradeName,
		StateRegistration: p.StateRegistration, IEIndicator: p.IEIndicator,
		CRT: nfe.CRT(p.CRT), Email: p.Email, Address: p.Address.ToEntity(),
	}
}

// ToEntity convierte los ajustes.
func (a AdjustmentsDTO) ToEntity() entity.Adjustments {
	return entity.Adjustments(a)
}

// ItemsToEntity convierte los ítems resolviendo la unión ICMS.
func ItemsToEntity(items []LineItemDTO) ([]entity.LineItem, error) {
	out := make([]entity.LineItem, 0, len(items))
	for i, it := range items {
		icms, err := it.ICMS.ToEntity()
		if err != nil {
			return nil, fmt.Errorf("items[%d].icms: %w", i, err)
		}
		out = append(out, entity.LineItem{
			Number:      it.Number,
			ProductCode: it.ProductCode,
			EAN:         it.EAN,
			Description: it.Description,
			NCM:         it.NCM,
			CFOP:        it.CFOP,
			Unit:        it.Unit,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.Total,
			Tax: entity.TaxDetails{
				Origin:   it.Origin,
				ICMS:     icms,
				PIS:      entity.ContributionTax{CST: nfe.ContributionCST(it.PIS.CST), Rate: it.PIS.Rate},
				COFINS:   entity.ContributionTax{CST: nfe.ContributionCST(it.COFINS.CST), Rate: it.COFINS.Rate},
				IPI:      entity.IPITax{CST: nfe.IPICST(it.IPI.CST), Rate: it.IPI.Rate, EnqCode: it.IPI.EnqCode},
				Computed: entity.TaxValues(it.Computed),
			},
		})
	}
	return out, nil
}

// PaymentsToEntity convierte las formas de pago.
func PaymentsToEntity(payments []PaymentDTO) []entity.Payment {
	out := make([]entity.Payment, 0, len(payments))
	for _, p := range payments {
		out = append(out, entity.Payment{Method: p.Method, Amount: p.Amount})
	}
	return out
}

// ToEntity resuelve la unión ICMS según Regime.
func (d ICMSDTO) ToEntity() (entity.ICMSSituation, error) {
	switch d.Regime {
	case RegimeNormal:
		return entity.NormalICMS{CST: nfe.ICMSCST(d.CST), Rate: d.Rate, BaseReduction: d.BaseReduction}, nil
	case RegimeSimples:
		return entity.SimplesICMS{CSOSN: nfe.CSOSN(d.CSOSN), CreditRate: d.CreditRate}, nil
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("régimen ICMS desconocido %q", d.Regime)
}

func toPartyDTO(p entity.Party) PartyDTO {
	return PartyDTO{
		CNPJ: p.CNPJ, Name: p.Name, TradeName: p.TradeName,
		StateRegistration: p.StateRegistration, IEIndicator: p.IEIndicator,
		CRT: int(p.CRT), Email: p.Email, Address: AddressDTO(p.Address),
	}
}

func toLineItemDTO(it entity.LineItem) LineItemDTO {
	out := LineItemDTO{
		Number:      it.Number,
		ProductCode: it.ProductCode,
		EAN:         it.EAN,
		Description: it.Description,
		NCM:         it.NCM,
		CFOP:        it.CFOP,
		Unit:        it.Unit,
		Quantity:    it.Quantity,
		UnitPrice:   it.UnitPrice,
		Total:       it.Total,
		Origin:      it.Tax.Origin,
		PIS:         ContributionDTO{CST: string(it.Tax.PIS.CST), Rate: it.Tax.PIS.Rate},
		COFINS:      ContributionDTO{CST: string(it.Tax.COFINS.CST), Rate: it.Tax.COFINS.Rate},
		IPI:         IPIDTO{CST: string(it.Tax.IPI.CST), Rate: it.Tax.IPI.Rate, EnqCode: it.Tax.IPI.EnqCode},
		Computed:    TaxValuesDTO(it.Tax.Computed),
	}
	switch icms := it.Tax.ICMS.(type) {
	case entity.NormalICMS:
		out.ICMS = ICMSDTO{Regime: RegimeNormal, CST: string(icms.CST), Rate: icms.Rate, BaseReduction: icms.BaseReduction}
	case entity.SimplesICMS:
		out.ICMS = ICMSDTO{Regime: RegimeSimples, CSOSN: string(icms.CSOSN), CreditRate: icms.CreditRate}
	}
	return out
}
