package sefaz

import (
	"crypto/x509"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// ImportOptions parámetros de la importación de un XML externo.
type ImportOptions struct {
	// IssuerCNPJ CNPJ esperado del emisor; vacío no valida.
	IssuerCNPJ string
	// DefaultStatus estado cuando el documento no trae protocolo.
	DefaultStatus entity.Status
}

// SignatureVerifier comprueba la firma XMLDSig de un documento.
type SignatureVerifier interface {
	Verify(xmlBytes []byte) (*x509.Certificate, error)
}

// XMLImporterService reconstruye una NF-e a partir de un nfeProc o un NFe.
type XMLImporterService struct {
	verifier SignatureVerifier
}

// NewXMLImporterService crea el servicio. Los documentos firmados se verifican con verifier.
func NewXMLImporterService(verifier SignatureVerifier) *XMLImporterService {
	return &XMLImporterService{verifier: verifier}
}

// Import interpreta el documento. Cualquier inconsistencia devuelve ErrImport y no
// se construye ninguna nota parcial.
func (s *XMLImporterService) Import(data []byte, opts ImportOptions) (*entity.Invoice, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, domain.NewImportError("XML ilegible", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, domain.NewImportError("documento sin raíz", nil)
	}
	signed := root.FindElement("//NFe/Signature") != nil
	if signed {
		if err := s.verify(doc); err != nil {
			return nil, err
		}
	}
	stripNamespaces(root)

	infNFe := root.FindElement("//infNFe")
	if infNFe == nil {
		return nil, domain.NewImportError("el documento no contiene infNFe", nil)
	}
	infProt := root.FindElement("//protNFe/infProt")

	key := nfe.AccessKeyFromID(infNFe.SelectAttrValue("Id", ""))
	if key == "" && infProt != nil {
		key = childText(infProt, "chNFe")
	}
	parts, err := nfe.ParseAccessKey(key)
	if err != nil {
		return nil, domain.NewImportError("chave de acesso inválida", err)
	}
	if infProt != nil {
		if chNFe := childText(infProt, "chNFe"); chNFe != key {
			return nil, domain.NewImportError(fmt.Sprintf("el protocolo corresponde a otra chave (%q)", chNFe), nil)
		}
	}

	inv := &entity.Invoice{AccessKey: key, ControlCode: parts.ControlCode}
	if err := s.readIde(infNFe, inv); err != nil {
		return nil, err
	}
	inv.Issuer = readParty(infNFe.SelectElement("emit"), "enderEmit")
	inv.Recipient = readParty(infNFe.SelectElement("dest"), "enderDest")

	if inv.Issuer.CNPJ != parts.CNPJ {
		return nil, domain.NewImportError(fmt.Sprintf("el CNPJ de la chave (%s) no coincide con emit/CNPJ (%s)", parts.CNPJ, inv.Issuer.CNPJ), nil)
	}
	if expected := nfe.OnlyDigits(opts.IssuerCNPJ); expected != "" && expected != inv.Issuer.CNPJ {
		return nil, domain.NewImportError(fmt.Sprintf("la nota pertenece a otro emisor (%s)", inv.Issuer.CNPJ), nil)
	}

	for i, det := range infNFe.SelectElements("det") {
		item, err := readItem(det)
		if err != nil {
			return nil, domain.NewImportError(fmt.Sprintf("det %d", i+1), err)
		}
		inv.Items = append(inv.Items, item)
	}
	if len(inv.Items) == 0 {
		return nil, domain.NewImportError("la nota no tiene ítems", nil)
	}

	if tot := infNFe.FindElement("total/ICMSTot"); tot != nil {
		inv.Totals = entity.Totals{
			ICMSBase:    decimalOf(tot, "vBC"),
			ICMSValue:   decimalOf(tot, "vICMS"),
			Products:    decimalOf(tot, "vProd"),
			Freight:     decimalOf(tot, "vFrete"),
			Insurance:   decimalOf(tot, "vSeg"),
			Discount:    decimalOf(tot, "vDesc"),
			Other:       decimalOf(tot, "vOutro"),
			IPIValue:    decimalOf(tot, "vIPI"),
			PISValue:    decimalOf(tot, "vPIS"),
			COFINSValue: decimalOf(tot, "vCOFINS"),
			GrandTotal:  decimalOf(tot, "vNF"),
		}
		for _, it := range inv.Items {
			inv.Totals.ICMSCredit = inv.Totals.ICMSCredit.Add(it.Tax.Computed.ICMSCredit)
		}
		inv.Adjustments = entity.Adjustments{
			Freight:   inv.Totals.Freight,
			Insurance: inv.Totals.Insurance,
			Discount:  inv.Totals.Discount,
			Other:     inv.Totals.Other,
		}
	}
	inv.FreightMode = childText(infNFe.SelectElement("transp"), "modFrete")
	for _, p := range infNFe.FindElements("pag/detPag") {
		inv.Payments = append(inv.Payments, entity.Payment{
			Method: childText(p, "tPag"),
			Amount: decimalOf(p, "vPag"),
		})
	}
	inv.Remarks = childText(infNFe.SelectElement("infAdic"), "infCpl")

	if signed {
		inv.SignedXML = string(data)
	}

	inv.Status = opts.DefaultStatus
	if inv.Status == "" {
		inv.Status = entity.StatusDraft
	}
	if infProt != nil {
		applyProtocol(inv, infProt, string(data))
	}
	return inv, nil
}

// verify comprueba la firma sobre el documento ya decodificado a UTF-8, sin la
// declaración XML para que la codificación original no vuelva a interpretarse.
func (s *XMLImporterService) verify(doc *etree.Document) error {
	if s.verifier == nil {
		return domain.NewImportError("no hay verificador de firmas configurado", nil)
	}
	cp := doc.Copy()
	for i := len(cp.Child) - 1; i >= 0; i-- {
		if pi, ok := cp.Child[i].(*etree.ProcInst); ok && pi.Target == "xml" {
			cp.RemoveChildAt(i)
		}
	}
	raw, err := cp.WriteToBytes()
	if err != nil {
		return domain.NewImportError("serializar documento firmado", err)
	}
	if _, err := s.verifier.Verify(raw); err != nil {
		return domain.NewImportError("la firma del documento no es válida", err)
	}
	return nil
}

// applyProtocol fija el estado a partir del cStat del protocolo.
func applyProtocol(inv *entity.Invoice, infProt *etree.Element, raw string) {
	cStat, err := strconv.Atoi(childText(infProt, "cStat"))
	if err != nil {
		return
	}
	inv.StatusCode = cStat
	inv.StatusReason = childText(infProt, "xMotivo")
	switch {
	case nfe.Authorized(cStat):
		inv.Status = entity.StatusAuthorized
		inv.Protocol = childText(infProt, "nProt")
		inv.AuthorizedXML = raw
	case nfe.CancelledStatus(cStat):
		inv.Status = entity.StatusCancelled
		inv.Protocol = childText(infProt, "nProt")
		inv.AuthorizedXML = raw
	case nfe.Rejected(cStat):
		inv.Status = entity.StatusRejected
	}
}

func (s *XMLImporterService) readIde(infNFe *etree.Element, inv *entity.Invoice) error {
	ide := infNFe.SelectElement("ide")
	if ide == nil {
		return domain.NewImportError("infNFe sin ide", nil)
	}
	var err error
	if inv.Number, err = strconv.Atoi(childText(ide, "nNF")); err != nil {
		return domain.NewImportError("nNF inválido", err)
	}
	if inv.Series, err = strconv.Atoi(childText(ide, "serie")); err != nil {
		return domain.NewImportError("serie inválida", err)
	}
	if dh := childText(ide, "dhEmi"); dh != "" {
		if inv.IssueDate, err = time.Parse(time.RFC3339, dh); err != nil {
			return domain.NewImportError("dhEmi inválido", err)
		}
	}
	inv.NatureOfOperation = childText(ide, "natOp")
	inv.OperationType = childText(ide, "tpNF")
	inv.Purpose = childText(ide, "finNFe")
	inv.FinalConsumer = childText(ide, "indFinal") == "1"
	inv.Environment = nfe.EnvironmentFromTpAmb(childText(ide, "tpAmb"))
	if cNF := childText(ide, "cNF"); cNF != "" {
		inv.ControlCode = cNF
	}
	return nil
}

func readParty(el *etree.Element, addressTag string) entity.Party {
	if el == nil {
		return entity.Party{}
	}
	p := entity.Party{
		CNPJ:              nfe.OnlyDigits(childText(el, "CNPJ")),
		Name:              childText(el, "xNome"),
		TradeName:         childText(el, "xFant"),
		StateRegistration: childText(el, "IE"),
		IEIndicator:       childText(el, "indIEDest"),
		Email:             childText(el, "email"),
	}
	if crt, err := strconv.Atoi(childText(el, "CRT")); err == nil {
		p.CRT = nfe.CRT(crt)
	}
	if a := el.SelectElement(addressTag); a != nil {
		p.Address = entity.Address{
			Street:           childText(a, "xLgr"),
			Number:           childText(a, "nro"),
			Complement:       childText(a, "xCpl"),
			District:         childText(a, "xBairro"),
			MunicipalityCode: childText(a, "cMun"),
			Municipality:     childText(a, "xMun"),
			UF:               childText(a, "UF"),
			PostalCode:       childText(a, "CEP"),
			CountryCode:      childText(a, "cPais"),
			Country:          childText(a, "xPais"),
			Phone:            childText(a, "fone"),
		}
	}
	return p
}

func readItem(det *etree.Element) (entity.LineItem, error) {
	prod := det.SelectElement("prod")
	if prod == nil {
		return entity.LineItem{}, fmt.Errorf("sin prod")
	}
	number, _ := strconv.Atoi(det.SelectAttrValue("nItem", "0"))
	ean := childText(prod, "cEAN")
	if ean == "SEM GTIN" {
		ean = ""
	}
	item := entity.LineItem{
		Number:      number,
		ProductCode: childText(prod, "cProd"),
		EAN:         ean,
		Description: childText(prod, "xProd"),
		NCM:         childText(prod, "NCM"),
		CFOP:        childText(prod, "CFOP"),
		Unit:        childText(prod, "uCom"),
		Quantity:    decimalOf(prod, "qCom"),
		UnitPrice:   decimalOf(prod, "vUnCom"),
		Total:       decimalOf(prod, "vProd"),
	}

	imposto := det.SelectElement("imposto")
	if imposto == nil {
		return item, nil
	}
	if icms := firstChild(imposto.SelectElement("ICMS")); icms != nil {
		item.Tax.Origin = childText(icms, "orig")
		if csosn := childText(icms, "CSOSN"); csosn != "" {
			item.Tax.ICMS = entity.SimplesICMS{CSOSN: nfe.CSOSN(csosn), CreditRate: decimalOf(icms, "pCredSN")}
			item.Tax.Computed.ICMSCredit = decimalOf(icms, "vCredICMSSN")
		} else {
			item.Tax.ICMS = entity.NormalICMS{
				CST:           nfe.ICMSCST(childText(icms, "CST")),
				Rate:          decimalOf(icms, "pICMS"),
				BaseReduction: decimalOf(icms, "pRedBC"),
			}
			item.Tax.Computed.ICMSBase = decimalOf(icms, "vBC")
			item.Tax.Computed.ICMSValue = decimalOf(icms, "vICMS")
		}
	}
	if ipi := imposto.SelectElement("IPI"); ipi != nil {
		item.Tax.IPI.EnqCode = childText(ipi, "cEnq")
		g := ipi.SelectElement("IPITrib")
		if g == nil {
			g = ipi.SelectElement("IPINT")
		}
		if g != nil {
			item.Tax.IPI.CST = nfe.IPICST(childText(g, "CST"))
			item.Tax.IPI.Rate = decimalOf(g, "pIPI")
			item.Tax.Computed.IPIBase = decimalOf(g, "vBC")
			item.Tax.Computed.IPIValue = decimalOf(g, "vIPI")
		}
	}
	if g := firstChild(imposto.SelectElement("PIS")); g != nil {
		item.Tax.PIS = entity.ContributionTax{CST: nfe.ContributionCST(childText(g, "CST")), Rate: decimalOf(g, "pPIS")}
		item.Tax.Computed.PISBase = decimalOf(g, "vBC")
		item.Tax.Computed.PISValue = decimalOf(g, "vPIS")
	}
	if g := firstChild(imposto.SelectElement("COFINS")); g != nil {
		item.Tax.COFINS = entity.ContributionTax{CST: nfe.ContributionCST(childText(g, "CST")), Rate: decimalOf(g, "pCOFINS")}
		item.Tax.Computed.COFINSBase = decimalOf(g, "vBC")
		item.Tax.Computed.COFINSValue = decimalOf(g, "vCOFINS")
	}
	return item, nil
}

// ── Helpers de lectura ────────────────────────────────────────────────────────

// stripNamespaces quita prefijos y declaraciones xmlns para recorrer el árbol por nombre local.
func stripNamespaces(el *etree.Element) {
	el.Space = ""
	attrs := el.Attr[:0]
	for _, a := range el.Attr {
		if (a.Space == "" && a.Key == "xmlns") || a.Space == "xmlns" {
			continue
		}
		a.Space = ""
		attrs = append(attrs, a)
	}
	el.Attr = attrs
	for _, child := range el.ChildElements() {
		stripNamespaces(child)
	}
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "iso-8859-1", "iso8859-1", "latin1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
	}
	return input, nil
}

func childText(el *etree.Element, tag string) string {
	if el == nil {
		return ""
	}
	c := el.SelectElement(tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

func decimalOf(el *etree.Element, tag string) decimal.Decimal {
	d, err := decimal.NewFromString(childText(el, tag))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func firstChild(el *etree.Element) *etree.Element {
	if el == nil {
		return nil
	}
	children := el.ChildElements()
	if len(children) == 0 {
		return nil
	}
	return children[0]
}
