// Package pdf genera el DANFE, la representación gráfica simplificada de la NF-e,
// a partir de los datos ya calculados del agregado. No recalcula nada.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Emitente + CNPJ/IE  │  DANFE / Nº / Série           │
//	│  CHAVE DE ACESSO: código de barras + dígitos en grupos de 4  │
//	│  PROTOCOLO / NATUREZA DA OPERAÇÃO                            │
//	│  DESTINATÁRIO: Nome + CNPJ + endereço                        │
//	│  ─────────────────────────────────────────────────────────  │
//	│  ITENS: Cód | Descrição | NCM | CFOP | Qtd | V.Unit | V.Total│
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTAIS: BC ICMS / ICMS / IPI / Frete / Desconto / Total NF  │
//	│  DADOS ADICIONAIS + leyendas (homologación, cancelada)       │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/application/billing"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

var _ billing.DANFERenderer = (*DANFEGenerator)(nil)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorAlert   = &props.Color{Red: 190, Green: 30, Blue: 30}
)

// ── Generator ─────────────────────────────────────────────────────────────────

// DANFEGenerator implementa billing.DANFERenderer usando Maroto v2.
type DANFEGenerator struct{}

// NewDANFEGenerator construye el generador.
func NewDANFEGenerator() *DANFEGenerator { return &DANFEGenerator{} }

// RenderDANFE genera el PDF y devuelve sus bytes. La nota necesita chave de acesso.
func (g *DANFEGenerator) RenderDANFE(_ context.Context, inv *entity.Invoice) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("pdf: nota nula")
	}
	if err := nfe.ValidateAccessKey(inv.AccessKey); err != nil {
		return nil, fmt.Errorf("pdf: la nota no tiene chave de acesso válida: %w", err)
	}

	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 8}).
		WithTitle("DANFE "+inv.AccessKey, true).
		WithAuthor(inv.Issuer.Name, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(inv))
	m.AddRows(accessKeyRows(inv)...)
	m.AddRows(protocolRow(inv))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(recipientRow(inv.Recipient))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(itemsHeaderRow())
	m.AddRows(itemRows(inv.Items)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRows(inv.Totals)...)

	m.AddRows(line.NewRow(3))
	m.AddRows(footerRows(inv)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func headerRow(inv *entity.Invoice) core.Row {
	addr := inv.Issuer.Address
	return row.New(22).Add(
		col.New(8).Add(
			text.New(inv.Issuer.Name, props.Text{
				Style: fontstyle.Bold, Size: 12, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("%s, %s - %s - %s/%s - CEP %s",
				addr.Street, addr.Number, addr.District, addr.Municipality, addr.UF, formatCEP(addr.PostalCode),
			), props.Text{Size: 7, Top: 8, Color: colorGray}),
			text.New(fmt.Sprintf("CNPJ: %s   |   IE: %s",
				formatCNPJ(inv.Issuer.CNPJ), nonEmpty(inv.Issuer.StateRegistration, "-"),
			), props.Text{Size: 8, Top: 13, Color: colorGray}),
		),
		col.New(4).Add(
			text.New("DANFE", props.Text{
				Style: fontstyle.Bold, Size: 14, Align: align.Right, Color: colorPrimary, Top: 1,
			}),
			text.New("Documento Auxiliar da Nota Fiscal Eletrônica", props.Text{
				Size: 6, Align: align.Right, Top: 8, Color: colorGray,
			}),
			text.New(fmt.Sprintf("Nº %09d   Série %03d", inv.Number, inv.Series), props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 12,
			}),
			text.New("Emissão: "+inv.IssueDate.Format("02/01/2006 15:04"), props.Text{
				Size: 7, Align: align.Right, Top: 17, Color: colorGray,
			}),
		),
	)
}

func accessKeyRows(inv *entity.Invoice) []core.Row {
	return []core.Row{
		row.New(14).Add(col.New(12).Add(code.NewBar(inv.AccessKey, props.Barcode{
			Percent: 90,
			Center:  true,
		}))),
		row.New(8).Add(col.New(12).Add(
			text.New("CHAVE DE ACESSO  "+formatAccessKey(inv.AccessKey), props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Center, Top: 2,
			}),
		)),
	}
}

func protocolRow(inv *entity.Invoice) core.Row {
	protocol := "-"
	if inv.Protocol != "" {
		protocol = inv.Protocol
	}
	return row.New(8).Add(
		col.New(6).Add(text.New("NATUREZA DA OPERAÇÃO: "+inv.NatureOfOperation, props.Text{Size: 7, Top: 2})),
		col.New(6).Add(text.New("PROTOCOLO DE AUTORIZAÇÃO: "+protocol, props.Text{Size: 7, Top: 2, Align: align.Right})),
	)
}

func recipientRow(p entity.Party) core.Row {
	addr := p.Address
	return row.New(16).Add(
		col.New(12).Add(
			text.New("DESTINATÁRIO / REMETENTE", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(p.Name, props.Text{Style: fontstyle.Bold, Size: 9, Top: 5}),
			text.New(fmt.Sprintf("CNPJ: %s   |   IE: %s   |   %s, %s - %s - %s/%s",
				formatCNPJ(p.CNPJ), nonEmpty(p.StateRegistration, "-"),
				addr.Street, addr.Number, addr.District, addr.Municipality, addr.UF,
			), props.Text{Size: 7, Top: 10, Color: colorGray}),
		),
	)
}

func itemsHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 7, Align: a, Color: colorPrimary, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(7).Add(
		h("Código", 1, align.Left),
		h("Descrição", 4, align.Left),
		h("NCM", 1, align.Center),
		h("CST", 1, align.Center),
		h("CFOP", 1, align.Center),
		h("Qtd.", 1, align.Right),
		h("V. Unit.", 1, align.Right),
		h("V. Total", 2, align.Right),
	)
}

func itemRows(items []entity.LineItem) []core.Row {
	cell := func(s string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(s, props.Text{Size: 7, Align: a, Top: 1, Left: 1, Right: 1}))
	}
	out := make([]core.Row, 0, len(items))
	for _, it := range items {
		cst := ""
		if it.Tax.ICMS != nil {
			cst = it.Tax.Origin + it.Tax.ICMS.Code()
		}
		out = append(out, row.New(6).Add(
			cell(it.ProductCode, 1, align.Left),
			cell(it.Description, 4, align.Left),
			cell(it.NCM, 1, align.Center),
			cell(cst, 1, align.Center),
			cell(it.CFOP, 1, align.Center),
			cell(formatDecimal(it.Quantity, 4), 1, align.Right),
			cell(formatDecimal(it.UnitPrice, 2), 1, align.Right),
			cell(formatDecimal(it.Total, 2), 2, align.Right),
		))
	}
	return out
}

func totalsRows(t entity.Totals) []core.Row {
	pair := func(label string, v decimal.Decimal, bold bool) core.Col {
		style := fontstyle.Normal
		color := colorGray
		if bold {
			style = fontstyle.Bold
			color = colorPrimary
		}
		return col.New(2).Add(
			text.New(label, props.Text{Size: 6, Top: 1, Color: colorGray, Align: align.Right, Right: 1}),
			text.New(formatDecimal(v, 2), props.Text{Size: 8, Top: 4, Style: style, Color: color, Align: align.Right, Right: 1}),
		)
	}
	return []core.Row{
		row.New(10).Add(
			pair("BASE DE CÁLC. ICMS", t.ICMSBase, false),
			pair("VALOR DO ICMS", t.ICMSValue, false),
			pair("VALOR DO IPI", t.IPIValue, false),
			pair("VALOR PIS", t.PISValue, false),
			pair("VALOR COFINS", t.COFINSValue, false),
			pair("V. TOTAL PRODUTOS", t.Products, false),
		),
		row.New(10).Add(
			pair("VALOR DO FRETE", t.Freight, false),
			pair("VALOR DO SEGURO", t.Insurance, false),
			pair("DESCONTO", t.Discount, false),
			pair("OUTRAS DESPESAS", t.Other, false),
			pair("CRÉDITO ICMS SN", t.ICMSCredit, false),
			pair("V. TOTAL DA NOTA", t.GrandTotal, true),
		),
	}
}

func footerRows(inv *entity.Invoice) []core.Row {
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("DADOS ADICIONAIS", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
		)),
	}
	if inv.Remarks != "" {
		rows = append(rows, row.New(8).Add(col.New(12).Add(
			text.New(inv.Remarks, props.Text{Size: 7, Top: 1, Color: colorGray}),
		)))
	}
	for _, e := range inv.EventsOfType(entity.EventCorrection) {
		rows = append(rows, row.New(6).Add(col.New(12).Add(
			text.New(fmt.Sprintf("CC-e %d (protocolo %s): %s", e.Sequence, nonEmpty(e.Protocol, "-"), e.Detail),
				props.Text{Size: 6.5, Top: 1, Color: colorGray}),
		)))
	}
	for _, legend := range legends(inv) {
		rows = append(rows, row.New(9).Add(col.New(12).Add(
			text.New(legend, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Center, Color: colorAlert, Top: 2}),
		)))
	}
	return rows
}

// legends leyendas obligatorias según ambiente y estado.
func legends(inv *entity.Invoice) []string {
	var out []string
	if inv.Environment == nfe.EnvironmentHomologation {
		out = append(out, "EMITIDA EM AMBIENTE DE HOMOLOGAÇÃO - SEM VALOR FISCAL")
	}
	switch inv.Status {
	case entity.StatusCancelled:
		out = append(out, "NF-e CANCELADA")
	case entity.StatusAuthorized:
	default:
		out = append(out, "DOCUMENTO SEM AUTORIZAÇÃO DE USO")
	}
	return out
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatDecimal formato brasileño: miles con punto y decimales con coma.
// Ej: 1234567.8 con 2 lugares → "1.234.567,80"
func formatDecimal(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	n := len(intPart)
	buf := make([]byte, 0, n+n/3+len(frac)+2)
	if neg {
		buf = append(buf, '-')
	}
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	if frac != "" {
		buf = append(buf, ',')
		buf = append(buf, frac...)
	}
	return string(buf)
}

// formatAccessKey agrupa la chave en bloques de 4 dígitos.
func formatAccessKey(key string) string {
	return strings.Join(splitEvery(key, 4), " ")
}

// formatCNPJ 11222333000181 → 11.222.333/0001-81.
func formatCNPJ(cnpj string) string {
	d := nfe.OnlyDigits(cnpj)
	if len(d) != 14 {
		return cnpj
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

func formatCEP(cep string) string {
	d := nfe.OnlyDigits(cep)
	if len(d) != 8 {
		return cep
	}
	return d[:5] + "-" + d[5:]
}

// splitEvery divide s en trozos de max n caracteres.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
