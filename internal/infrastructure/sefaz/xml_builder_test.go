package sefaz_test

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

func build(t *testing.T, inv *entity.Invoice) *etree.Element {
	t.Helper()
	out, err := sefaz.NewXMLBuilderService().Build(&sefaz.InvoiceBuildContext{Invoice: inv})
	require.NoError(t, err)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	return doc.Root()
}

func TestBuild_RaizYOrdenDeGrupos(t *testing.T) {
	root := build(t, testInvoice(t))
	assert.Equal(t, "NFe", root.Tag)
	assert.Equal(t, nfe.Namespace, root.SelectAttrValue("xmlns", ""))

	inf := root.SelectElement("infNFe")
	require.NotNil(t, inf)
	assert.Equal(t, "4.00", inf.SelectAttrValue("versao", ""))
	assert.Equal(t, "NFe"+testKey, inf.SelectAttrValue("Id", ""))

	var tags []string
	for _, c := range inf.ChildElements() {
		tags = append(tags, c.Tag)
	}
	assert.Equal(t, []string{"ide", "emit", "dest", "det", "det", "total", "transp", "pag", "infAdic"}, tags)
}

func TestBuild_IdeDerivadoDeLaClave(t *testing.T) {
	ide := build(t, testInvoice(t)).FindElement("infNFe/ide")
	assert.Equal(t, "35", ide.SelectElement("cUF").Text())
	assert.Equal(t, "45678912", ide.SelectElement("cNF").Text())
	assert.Equal(t, "0", ide.SelectElement("cDV").Text())
	assert.Equal(t, "1", ide.SelectElement("tpAmb").Text())
	assert.Equal(t, "2024-10-05T10:00:00-03:00", ide.SelectElement("dhEmi").Text())
	assert.Equal(t, "Venda de mercadoria", ide.SelectElement("natOp").Text())
}

func TestBuild_Determinista(t *testing.T) {
	b := sefaz.NewXMLBuilderService()
	a1, err := b.Build(&sefaz.InvoiceBuildContext{Invoice: testInvoice(t)})
	require.NoError(t, err)
	a2, err := b.Build(&sefaz.InvoiceBuildContext{Invoice: testInvoice(t)})
	require.NoError(t, err)
	assert.Equal(t, string(a1), string(a2))
}

func TestBuild_FormatosNumericos(t *testing.T) {
	prod := build(t, testInvoice(t)).FindElement("infNFe/det/prod")
	assert.Equal(t, "10.0000", prod.SelectElement("qCom").Text())
	assert.Equal(t, "15.0000000000", prod.SelectElement("vUnCom").Text())
	assert.Equal(t, "150.00", prod.SelectElement("vProd").Text())
	assert.Equal(t, "SEM GTIN", prod.SelectElement("cEAN").Text())

	icms := build(t, testInvoice(t)).FindElement("infNFe/det/imposto/ICMS/ICMS00")
	require.NotNil(t, icms)
	assert.Equal(t, "18.00", icms.SelectElement("pICMS").Text())
	assert.Equal(t, "27.00", icms.SelectElement("vICMS").Text())
}

func TestBuild_ProrrateoCuadraConTotales(t *testing.T) {
	inv := testInvoice(t)
	inf := build(t, inv).SelectElement("infNFe")

	sum := func(tag string) decimal.Decimal {
		total := decimal.Zero
		for _, p := range inf.FindElements("det/prod") {
			if el := p.SelectElement(tag); el != nil {
				total = total.Add(dec(el.Text()))
			}
		}
		return total
	}
	assert.True(t, dec("10.00").Equal(sum("vFrete")), sum("vFrete").String())
	assert.True(t, dec("7.00").Equal(sum("vDesc")), sum("vDesc").String())
	// 150 / 200 del flete en el primer ítem
	assert.Equal(t, "7.50", inf.FindElement("det/prod/vFrete").Text())

	tot := inf.FindElement("total/ICMSTot")
	assert.Equal(t, "10.00", tot.SelectElement("vFrete").Text())
	assert.Equal(t, "7.00", tot.SelectElement("vDesc").Text())
	assert.Equal(t, inv.Totals.GrandTotal.StringFixed(2), tot.SelectElement("vNF").Text())
	assert.Equal(t, "203.00", tot.SelectElement("vNF").Text())
}

func TestBuild_HomologacionReemplazaDestinatario(t *testing.T) {
	inv := testInvoice(t)
	inv.Environment = nfe.EnvironmentHomologation
	dest := build(t, inv).FindElement("infNFe/dest")
	assert.Equal(t, nfe.HomologationRecipientName, dest.SelectElement("xNome").Text())
	assert.Nil(t, dest.SelectElement("IE"))
}

func TestBuild_TextoSaneado(t *testing.T) {
	dest := build(t, testInvoice(t)).FindElement("infNFe/dest")
	assert.Equal(t, "Destinatario Sao Joao SA", dest.SelectElement("xNome").Text())
	assert.Equal(t, "01310100", dest.FindElement("enderDest/CEP").Text())
}

func TestBuild_SimplesConCredito(t *testing.T) {
	inv := testInvoice(t)
	inv.Issuer.CRT = nfe.CRTSimples
	for i := range inv.Items {
		inv.Items[i].Tax.ICMS = entity.SimplesICMS{CSOSN: nfe.CSOSN101, CreditRate: dec("2.00")}
		inv.Items[i].Tax.Computed.ICMSCredit = dec("3.00")
	}
	icms := build(t, inv).FindElement("infNFe/det/imposto/ICMS/ICMSSN101")
	require.NotNil(t, icms)
	assert.Equal(t, "101", icms.SelectElement("CSOSN").Text())
	assert.Equal(t, "2.00", icms.SelectElement("pCredSN").Text())
	assert.Equal(t, "3.00", icms.SelectElement("vCredICMSSN").Text())
}

func TestBuild_IPINoTributadoPorDefecto(t *testing.T) {
	ipi := build(t, testInvoice(t)).FindElement("infNFe/det/imposto/IPI")
	assert.Equal(t, "999", ipi.SelectElement("cEnq").Text())
	assert.Equal(t, "53", ipi.FindElement("IPINT/CST").Text())
}

func TestBuild_SinClaveFalla(t *testing.T) {
	inv := testInvoice(t)
	inv.AccessKey = ""
	_, err := sefaz.NewXMLBuilderService().Build(&sefaz.InvoiceBuildContext{Invoice: inv})
	assert.Error(t, err)
}
