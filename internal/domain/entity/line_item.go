package entity

import (
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// ICMSSituation situación del ICMS de un ítem. Es una unión cerrada: NormalICMS para
// el régimen normal (CST) y SimplesICMS para el Simples Nacional (CSOSN).
type ICMSSituation interface {
	// Code devuelve el CST o el CSOSN.
	Code() string
	// Simples indica si la situación pertenece al Simples Nacional.
	Simples() bool
	icmsSituation()
}

// NormalICMS ICMS del régimen normal.
type NormalICMS struct {
	CST           nfe.ICMSCST
	Rate          decimal.Decimal // pICMS, porcentaje
	BaseReduction decimal.Decimal // pRedBC, solo CST 20
}

func (n NormalICMS) Code() string  { return string(n.CST) }
func (n NormalICMS) Simples() bool { return false }
func (NormalICMS) icmsSituation()  {}

// SimplesICMS ICMS del Simples Nacional.
type SimplesICMS struct {
	CSOSN      nfe.CSOSN
	CreditRate decimal.Decimal // pCredSN, porcentaje
}

func (s SimplesICMS) Code() string  { return string(s.CSOSN) }
func (s SimplesICMS) Simples() bool { return true }
func (SimplesICMS) icmsSituation()  {}

// ContributionTax PIS o COFINS de un ítem.
type ContributionTax struct {
	CST  nfe.ContributionCST
	Rate decimal.Decimal
}

// IPITax IPI de un ítem. CST vacío equivale a no tributado (53).
type IPITax struct {
	CST     nfe.IPICST
	Rate    decimal.Decimal
	EnqCode string // cEnq, 999 si vacío
}

// TaxDetails situación tributaria declarada y valores calculados del ítem.
type TaxDetails struct {
	Origin string // orig, 0 = nacional
	ICMS   ICMSSituation
	PIS    ContributionTax
	COFINS ContributionTax
	IPI    IPITax

	Computed TaxValues
}

// TaxValues valores calculados por el motor de impuestos.
type TaxValues struct {
	ICMSBase    decimal.Decimal
	ICMSValue   decimal.Decimal
	ICMSCredit  decimal.Decimal // vCredICMSSN
	PISBase     decimal.Decimal
	PISValue    decimal.Decimal
	COFINSBase  decimal.Decimal
	COFINSValue decimal.Decimal
	IPIBase     decimal.Decimal
	IPIValue    decimal.Decimal
}

// LineItem ítem (det) de la NF-e.
type LineItem struct {
	Number      int // nItem, desde 1
	ProductCode string
	EAN         string // "SEM GTIN" si vacío
	Description string
	NCM         string
	CFOP        string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal // calculado: cantidad × precio
	Tax         TaxDetails
}
