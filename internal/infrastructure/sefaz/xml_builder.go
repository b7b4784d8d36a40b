package sefaz

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// Formato de fecha y hora con huso (dhEmi, dhEvento).
const dateTimeLayout = "2006-01-02T15:04:05-07:00"

// XMLBuilderService construye el XML de la NF-e (sin firma).
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Build genera el documento <NFe> con infNFe Id="NFe{chave}". La salida es determinista:
// la misma nota produce siempre los mismos bytes.
func (s *XMLBuilderService) Build(ctx *InvoiceBuildContext) ([]byte, error) {
	if ctx == nil || ctx.Invoice == nil {
		return nil, fmt.Errorf("nfe: falta la nota en el contexto")
	}
	inv := ctx.Invoice
	if err := nfe.ValidateAccessKey(inv.AccessKey); err != nil {
		return nil, fmt.Errorf("nfe: la nota no tiene chave de acesso válida: %w", err)
	}
	if len(inv.Items) == 0 {
		return nil, fmt.Errorf("nfe: la nota no tiene ítems")
	}
	verProc := ctx.VerProc
	if verProc == "" {
		verProc = DefaultVerProc
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	root := xml.StartElement{
		Name: xml.Name{Local: "NFe"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: nfe.Namespace}},
	}
	_ = enc.EncodeToken(root)
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "infNFe"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "versao"}, Value: nfe.LayoutVersion},
			{Name: xml.Name{Local: "Id"}, Value: inv.ElementID()},
		},
	})

	s.writeIde(enc, inv, verProc)
	s.writeEmit(enc, inv.Issuer)
	s.writeDest(enc, inv)

	shares := prorateAdjustments(inv.Items, inv.Totals)
	for i, it := range inv.Items {
		s.writeDet(enc, i, it, shares[i])
	}

	s.writeTotal(enc, inv.Totals)

	start(enc, "transp")
	freight := inv.FreightMode
	if freight == "" {
		freight = nfe.FreightNone
	}
	writeEl(enc, "modFrete", freight)
	end(enc, "transp")

	s.writePag(enc, inv.Payments)

	if remarks := nfe.SanitizeText(inv.Remarks, nfe.MaxRemarksLength); remarks != "" {
		start(enc, "infAdic")
		writeEl(enc, "infCpl", remarks)
		end(enc, "infAdic")
	}

	end(enc, "infNFe")
	_ = enc.EncodeToken(root.End())
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("nfe: serializar XML: %w", err)
	}
	return buf.Bytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func (s *XMLBuilderService) writeIde(enc *xml.Encoder, inv *entity.Invoice, verProc string) {
	key := inv.AccessKey
	idDest := "1"
	if inv.Recipient.Address.UF != "" && inv.Recipient.Address.UF != inv.Issuer.Address.UF {
		idDest = "2"
	}
	indFinal := "0"
	if inv.FinalConsumer {
		indFinal = "1"
	}
	purpose := inv.Purpose
	if purpose == "" {
		purpose = nfe.PurposeNormal
	}
	opType := inv.OperationType
	if opType == "" {
		opType = nfe.OperationOutbound
	}

	start(enc, "ide")
	writeEl(enc, "cUF", key[0:2])
	writeEl(enc, "cNF", key[35:43])
	writeEl(enc, "natOp", nfe.SanitizeText(inv.NatureOfOperation, 60))
	writeEl(enc, "mod", nfe.Model)
	writeEl(enc, "serie", strconv.Itoa(inv.Series))
	writeEl(enc, "nNF", strconv.Itoa(inv.Number))
	writeEl(enc, "dhEmi", inv.IssueDate.Format(dateTimeLayout))
	writeEl(enc, "tpNF", opType)
	writeEl(enc, "idDest", idDest)
	writeEl(enc, "cMunFG", nfe.OnlyDigits(inv.Issuer.Address.MunicipalityCode))
	writeEl(enc, "tpImp", "1")
	writeEl(enc, "tpEmis", key[34:35])
	writeEl(enc, "cDV", key[43:44])
	writeEl(enc, "tpAmb", inv.Environment.TpAmb())
	writeEl(enc, "finNFe", purpose)
	writeEl(enc, "indFinal", indFinal)
	writeEl(enc, "indPres", "1")
	writeEl(enc, "procEmi", "0")
	writeEl(enc, "verProc", verProc)
	end(enc, "ide")
}

func (s *XMLBuilderService) writeEmit(enc *xml.Encoder, p entity.Party) {
	start(enc, "emit")
	writeEl(enc, "CNPJ", nfe.OnlyDigits(p.CNPJ))
	writeEl(enc, "xNome", nfe.SanitizeText(p.Name, nfe.MaxNameLength))
	writeOpt(enc, "xFant", nfe.SanitizeText(p.TradeName, nfe.MaxNameLength))
	writeAddress(enc, "enderEmit", p.Address)
	writeEl(enc, "IE", nfe.OnlyDigits(p.StateRegistration))
	writeEl(enc, "CRT", strconv.Itoa(int(p.CRT)))
	end(enc, "emit")
}

func (s *XMLBuilderService) writeDest(enc *xml.Encoder, inv *entity.Invoice) {
	p := inv.Recipient
	name := nfe.SanitizeText(p.Name, nfe.MaxNameLength)
	if inv.Environment == nfe.EnvironmentHomologation {
		name = nfe.HomologationRecipientName
	}
	indIE := p.IEIndicator
	if indIE == "" {
		indIE = entity.IENonContributor
	}

	start(enc, "dest")
	writeEl(enc, "CNPJ", nfe.OnlyDigits(p.CNPJ))
	writeEl(enc, "xNome", name)
	writeAddress(enc, "enderDest", p.Address)
	writeEl(enc, "indIEDest", indIE)
	if indIE != entity.IENonContributor {
		writeOpt(enc, "IE", nfe.OnlyDigits(p.StateRegistration))
	}
	writeOpt(enc, "email", p.Email)
	end(enc, "dest")
}

func writeAddress(enc *xml.Encoder, tag string, a entity.Address) {
	country, countryName := a.CountryCode, a.Country
	if country == "" {
		country, countryName = "1058", "BRASIL"
	}
	start(enc, tag)
	writeEl(enc, "xLgr", nfe.SanitizeText(a.Street, nfe.MaxStreetLength))
	writeEl(enc, "nro", nfe.SanitizeText(a.Number, 60))
	writeOpt(enc, "xCpl", nfe.SanitizeText(a.Complement, 60))
	writeEl(enc, "xBairro", nfe.SanitizeText(a.District, 60))
	writeEl(enc, "cMun", nfe.OnlyDigits(a.MunicipalityCode))
	writeEl(enc, "xMun", nfe.SanitizeText(a.Municipality, 60))
	writeEl(enc, "UF", a.UF)
	writeEl(enc, "CEP", nfe.OnlyDigits(a.PostalCode))
	writeEl(enc, "cPais", country)
	writeEl(enc, "xPais", nfe.SanitizeText(countryName, 60))
	writeOpt(enc, "fone", nfe.OnlyDigits(a.Phone))
	end(enc, tag)
}

func (s *XMLBuilderService) writeDet(enc *xml.Encoder, idx int, it entity.LineItem, adj adjustmentShare) {
	ean := it.EAN
	if ean == "" {
		ean = "SEM GTIN"
	}
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Local: "det"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "nItem"}, Value: strconv.Itoa(idx + 1)}},
	})

	start(enc, "prod")
	writeEl(enc, "cProd", nfe.SanitizeText(it.ProductCode, 60))
	writeEl(enc, "cEAN", ean)
	writeEl(enc, "xProd", nfe.SanitizeText(it.Description, nfe.MaxProductLength))
	writeEl(enc, "NCM", nfe.OnlyDigits(it.NCM))
	writeEl(enc, "CFOP", nfe.OnlyDigits(it.CFOP))
	writeEl(enc, "uCom", nfe.SanitizeText(it.Unit, 6))
	writeEl(enc, "qCom", formatQuantity(it.Quantity))
	writeEl(enc, "vUnCom", formatUnitPrice(it.UnitPrice))
	writeEl(enc, "vProd", formatMoney(it.Total))
	writeEl(enc, "cEANTrib", ean)
	writeEl(enc, "uTrib", nfe.SanitizeText(it.Unit, 6))
	writeEl(enc, "qTrib", formatQuantity(it.Quantity))
	writeEl(enc, "vUnTrib", formatUnitPrice(it.UnitPrice))
	writeMoneyOpt(enc, "vFrete", adj.freight)
	writeMoneyOpt(enc, "vSeg", adj.insurance)
	writeMoneyOpt(enc, "vDesc", adj.discount)
	writeMoneyOpt(enc, "vOutro", adj.other)
	writeEl(enc, "indTot", "1")
	end(enc, "prod")

	start(enc, "imposto")
	writeICMS(enc, it.Tax)
	writeIPI(enc, it.Tax)
	writeContribution(enc, "PIS", it.Tax.PIS, it.Tax.Computed.PISBase, it.Tax.Computed.PISValue)
	writeContribution(enc, "COFINS", it.Tax.COFINS, it.Tax.Computed.COFINSBase, it.Tax.Computed.COFINSValue)
	end(enc, "imposto")

	end(enc, "det")
}

func writeICMS(enc *xml.Encoder, tax entity.TaxDetails) {
	tv := tax.Computed
	start(enc, "ICMS")
	switch s := tax.ICMS.(type) {
	case entity.NormalICMS:
		group := s.CST.Group()
		start(enc, group)
		writeEl(enc, "orig", tax.Origin)
		writeEl(enc, "CST", string(s.CST))
		if s.CST.Taxed() {
			writeEl(enc, "modBC", "3")
			if s.CST == nfe.ICMSCST20 {
				writeEl(enc, "pRedBC", formatRate(s.BaseReduction))
			}
			writeEl(enc, "vBC", formatMoney(tv.ICMSBase))
			writeEl(enc, "pICMS", formatRate(s.Rate))
			writeEl(enc, "vICMS", formatMoney(tv.ICMSValue))
		}
		end(enc, group)
	case entity.SimplesICMS:
		group := s.CSOSN.Group()
		start(enc, group)
		writeEl(enc, "orig", tax.Origin)
		writeEl(enc, "CSOSN", string(s.CSOSN))
		if s.CSOSN == nfe.CSOSN101 || (s.CSOSN == nfe.CSOSN900 && tv.ICMSCredit.IsPositive()) {
			writeEl(enc, "pCredSN", formatRate(s.CreditRate))
			writeEl(enc, "vCredICMSSN", formatMoney(tv.ICMSCredit))
		}
		end(enc, group)
	}
	end(enc, "ICMS")
}

func writeIPI(enc *xml.Encoder, tax entity.TaxDetails) {
	ipi := tax.IPI
	cst := ipi.CST
	if cst == "" {
		cst = nfe.IPIDefaultCST
	}
	enq := ipi.EnqCode
	if enq == "" {
		enq = nfe.IPIDefaultEnq
	}
	start(enc, "IPI")
	writeEl(enc, "cEnq", enq)
	if cst.Taxed() {
		start(enc, "IPITrib")
		writeEl(enc, "CST", string(cst))
		writeEl(enc, "vBC", formatMoney(tax.Computed.IPIBase))
		writeEl(enc, "pIPI", formatRate(ipi.Rate))
		writeEl(enc, "vIPI", formatMoney(tax.Computed.IPIValue))
		end(enc, "IPITrib")
	} else {
		start(enc, "IPINT")
		writeEl(enc, "CST", string(cst))
		end(enc, "IPINT")
	}
	end(enc, "IPI")
}

func writeContribution(enc *xml.Encoder, tag string, t entity.ContributionTax, base, value decimal.Decimal) {
	group := tag + t.CST.Group()
	start(enc, tag)
	start(enc, group)
	writeEl(enc, "CST", string(t.CST))
	if t.CST.Group() != "NT" {
		rate := t.Rate
		if !t.CST.Taxed() {
			rate = decimal.Zero
		}
		writeEl(enc, "vBC", formatMoney(base))
		writeEl(enc, "p"+tag, formatRate(rate))
		writeEl(enc, "v"+tag, formatMoney(value))
	}
	end(enc, group)
	end(enc, tag)
}

func (s *XMLBuilderService) writeTotal(enc *xml.Encoder, t entity.Totals) {
	zero := formatMoney(decimal.Zero)
	start(enc, "total")
	start(enc, "ICMSTot")
	writeEl(enc, "vBC", formatMoney(t.ICMSBase))
	writeEl(enc, "vICMS", formatMoney(t.ICMSValue))
	writeEl(enc, "vICMSDeson", zero)
	writeEl(enc, "vFCP", zero)
	writeEl(enc, "vBCST", zero)
	writeEl(enc, "vST", zero)
	writeEl(enc, "vFCPST", zero)
	writeEl(enc, "vFCPSTRet", zero)
	writeEl(enc, "vProd", formatMoney(t.Products))
	writeEl(enc, "vFrete", formatMoney(t.Freight))
	writeEl(enc, "vSeg", formatMoney(t.Insurance))
	writeEl(enc, "vDesc", formatMoney(t.Discount))
	writeEl(enc, "vII", zero)
	writeEl(enc, "vIPI", formatMoney(t.IPIValue))
	writeEl(enc, "vIPIDevol", zero)
	writeEl(enc, "vPIS", formatMoney(t.PISValue))
	writeEl(enc, "vCOFINS", formatMoney(t.COFINSValue))
	writeEl(enc, "vOutro", formatMoney(t.Other))
	writeEl(enc, "vNF", formatMoney(t.GrandTotal))
	end(enc, "ICMSTot")
	end(enc, "total")
}

func (s *XMLBuilderService) writePag(enc *xml.Encoder, payments []entity.Payment) {
	start(enc, "pag")
	for _, p := range payments {
		start(enc, "detPag")
		writeEl(enc, "tPag", p.Method)
		writeEl(enc, "vPag", formatMoney(p.Amount))
		end(enc, "detPag")
	}
	end(enc, "pag")
}

// ── Prorrateo de ajustes ──────────────────────────────────────────────────────

type adjustmentShare struct {
	freight, insurance, discount, other decimal.Decimal
}

// prorateAdjustments reparte flete, seguro, descuento y otros entre los ítems en
// proporción a su valor; el último ítem absorbe la diferencia de redondeo, de modo que
// la suma por ítem coincide siempre con el total de la nota.
func prorateAdjustments(items []entity.LineItem, t entity.Totals) []adjustmentShare {
	shares := make([]adjustmentShare, len(items))
	weights := make([]decimal.Decimal, len(items))
	for i, it := range items {
		weights[i] = it.Total
	}
	apply := func(total decimal.Decimal, set func(*adjustmentShare, decimal.Decimal)) {
		for i, v := range prorate(total, weights) {
			set(&shares[i], v)
		}
	}
	apply(t.Freight, func(s *adjustmentShare, v decimal.Decimal) { s.freight = v })
	apply(t.Insurance, func(s *adjustmentShare, v decimal.Decimal) { s.insurance = v })
	apply(t.Discount, func(s *adjustmentShare, v decimal.Decimal) { s.discount = v })
	apply(t.Other, func(s *adjustmentShare, v decimal.Decimal) { s.other = v })
	return shares
}

func prorate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if total.IsZero() || len(weights) == 0 {
		return out
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	last := len(weights) - 1
	if sum.IsZero() {
		out[last] = total
		return out
	}
	assigned := decimal.Zero
	for i := 0; i < last; i++ {
		out[i] = total.Mul(weights[i]).Div(sum).Round(2)
		assigned = assigned.Add(out[i])
	}
	out[last] = total.Sub(assigned)
	return out
}

// ── Helpers de escritura ──────────────────────────────────────────────────────

func start(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
}

func end(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

func writeEl(enc *xml.Encoder, local, value string) {
	start(enc, local)
	_ = enc.EncodeToken(xml.CharData(value))
	end(enc, local)
}

func writeOpt(enc *xml.Encoder, local, value string) {
	if value != "" {
		writeEl(enc, local, value)
	}
}

func writeMoneyOpt(enc *xml.Encoder, local string, v decimal.Decimal) {
	if !v.IsZero() {
		writeEl(enc, local, formatMoney(v))
	}
}

func formatMoney(d decimal.Decimal) string     { return d.Round(2).StringFixed(2) }
func formatQuantity(d decimal.Decimal) string  { return d.StringFixed(4) }
func formatUnitPrice(d decimal.Decimal) string { return d.StringFixed(10) }
func formatRate(d decimal.Decimal) string      { return d.StringFixed(2) }
