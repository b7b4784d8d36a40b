package sefaz

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// ── Endpoints ──────────────────────────────────────────────────────────────────

const (
	soap12NS        = "http://www.w3.org/2003/05/soap-envelope"
	wsdlAutorizacao = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4"
	wsdlEvento      = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeRecepcaoEvento4"

	serviceAuthorization = "NFeAutorizacao4"
	serviceEvent         = "NFeRecepcaoEvento4"
)

type endpointSet struct {
	Authorization string
	Event         string
}

// endpoints URL por autorizadora y ambiente. Los estados sin autorizadora propia usan SVRS.
var endpoints = map[string]map[nfe.Environment]endpointSet{
	"SP": {
		nfe.EnvironmentProduction: {
			Authorization: "https://nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx",
			Event:         "https://nfe.fazenda.sp.gov.br/ws/nferecepcaoevento4.asmx",
		},
		nfe.EnvironmentHomologation: {
			Authorization: "https://homologacao.nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx",
			Event:         "https://homologacao.nfe.fazenda.sp.gov.br/ws/nferecepcaoevento4.asmx",
		},
	},
	"MG": {
		nfe.EnvironmentProduction: {
			Authorization: "https://nfe.fazenda.mg.gov.br/nfe2/services/NFeAutorizacao4",
			Event:         "https://nfe.fazenda.mg.gov.br/nfe2/services/NFeRecepcaoEvento4",
		},
		nfe.EnvironmentHomologation: {
			Authorization: "https://hnfe.fazenda.mg.gov.br/nfe2/services/NFeAutorizacao4",
			Event:         "https://hnfe.fazenda.mg.gov.br/nfe2/services/NFeRecepcaoEvento4",
		},
	},
	"PR": {
		nfe.EnvironmentProduction: {
			Authorization: "https://nfe.sefa.pr.gov.br/nfe/NFeAutorizacao4",
			Event:         "https://nfe.sefa.pr.gov.br/nfe/NFeRecepcaoEvento4",
		},
		nfe.EnvironmentHomologation: {
			Authorization: "https://homologacao.nfe.sefa.pr.gov.br/nfe/NFeAutorizacao4",
			Event:         "https://homologacao.nfe.sefa.pr.gov.br/nfe/NFeRecepcaoEvento4",
		},
	},
	"RS": {
		nfe.EnvironmentProduction: {
			Authorization: "https://nfe.sefazrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
			Event:         "https://nfe.sefazrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
		},
		nfe.EnvironmentHomologation: {
			Authorization: "https://nfe-homologacao.sefazrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
			Event:         "https://nfe-homologacao.sefazrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
		},
	},
	"SVRS": {
		nfe.EnvironmentProduction: {
			Authorization: "https://nfe.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
			Event:         "https://nfe.svrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
		},
		nfe.EnvironmentHomologation: {
			Authorization: "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
			Event:         "https://nfe-homologacao.svrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
		},
	},
}

// ── Resultados ─────────────────────────────────────────────────────────────────

// AuthorizationResult respuesta de NFeAutorizacao4 (retEnviNFe con indSinc=1).
type AuthorizationResult struct {
	BatchStatus int    // cStat del lote (104 = procesado)
	BatchReason string // xMotivo del lote
	Status      int    // cStat de protNFe; 0 si la SEFAZ no devolvió protocolo
	Reason      string
	AccessKey   string
	Protocol    string // nProt
	ReceivedAt  time.Time
	DigestValue string
	ProtocolXML []byte // protNFe para armar el nfeProc
}

// EventResult respuesta de NFeRecepcaoEvento4.
type EventResult struct {
	BatchStatus int
	BatchReason string
	Status      int
	Reason      string
	Protocol    string
	ReceivedAt  time.Time
	ResultXML   []byte // retEvento para armar el procEventoNFe
}

// ── Cliente SOAP 1.2 ───────────────────────────────────────────────────────────

// ClientConfig configuración del cliente SEFAZ.
type ClientConfig struct {
	Timeout          time.Duration
	AuthorizationURL string         // reemplaza la URL de autorización (laboratorio)
	EventURL         string         // reemplaza la URL de eventos
	RootCAs          *x509.CertPool // nil usa las raíces del sistema
}

// SOAPSefazClient cliente de los servicios de autorización y eventos de la SEFAZ.
// El cliente HTTP se arma en cada llamada con el certificado de la operación (TLS mutuo).
type SOAPSefazClient struct {
	cfg ClientConfig
}

// NewSOAPSefazClient construye el cliente; timeout por defecto 30 s.
func NewSOAPSefazClient(cfg ClientConfig) *SOAPSefazClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SOAPSefazClient{cfg: cfg}
}

type soapEnvelope struct {
	XMLName xml.Name   `xml:"soap12:Envelope"`
	XmlnsS  string     `xml:"xmlns:soap12,attr"`
	Header  soapHeader `xml:"soap12:Header"`
	Body    soapBody   `xml:"soap12:Body"`
}

type soapHeader struct {
	Cabec nfeCabecMsg `xml:"nfeCabecMsg"`
}

type nfeCabecMsg struct {
	Xmlns       string `xml:"xmlns,attr"`
	CUF         string `xml:"cUF"`
	VersaoDados string `xml:"versaoDados"`
}

type soapBody struct {
	Dados nfeDadosMsg `xml:"nfeDadosMsg"`
}

type nfeDadosMsg struct {
	Xmlns   string `xml:"xmlns,attr"`
	Content string `xml:",innerxml"`
}

// Endpoint devuelve la URL del servicio para la UF y el ambiente.
func (c *SOAPSefazClient) Endpoint(service string, env nfe.Environment, uf string) (string, error) {
	switch service {
	case serviceAuthorization:
		if c.cfg.AuthorizationURL != "" {
			return c.cfg.AuthorizationURL, nil
		}
	case serviceEvent:
		if c.cfg.EventURL != "" {
			return c.cfg.EventURL, nil
		}
	default:
		return "", fmt.Errorf("sefaz: servicio desconocido %q", service)
	}
	if nfe.UFCode(uf) == "" {
		return "", fmt.Errorf("sefaz: UF desconocida %q", uf)
	}
	set, ok := endpoints[uf]
	if !ok {
		set = endpoints["SVRS"]
	}
	urls := set[env]
	if service == serviceAuthorization {
		return urls.Authorization, nil
	}
	return urls.Event, nil
}

// Authorize envía la NF-e firmada en un lote síncrono (indSinc=1).
func (c *SOAPSefazClient) Authorize(ctx context.Context, cert *entity.Certificate, env nfe.Environment, uf string, signedNFe []byte) (*AuthorizationResult, error) {
	url, err := c.Endpoint(serviceAuthorization, env, uf)
	if err != nil {
		return nil, err
	}
	var lote strings.Builder
	lote.WriteString(`<enviNFe xmlns="` + nfe.Namespace + `" versao="` + nfe.LayoutVersion + `">`)
	lote.WriteString(`<idLote>` + LotID(time.Now()) + `</idLote><indSinc>1</indSinc>`)
	lote.Write(stripDeclaration(signedNFe))
	lote.WriteString(`</enviNFe>`)

	root, err := c.call(ctx, cert, url, wsdlAutorizacao, nfe.UFCode(uf), nfe.LayoutVersion, lote.String())
	if err != nil {
		return nil, err
	}
	ret := root.FindElement("//retEnviNFe")
	if ret == nil {
		return nil, domain.NewTransmissionError("respuesta sin retEnviNFe", nil, false)
	}
	res := &AuthorizationResult{
		BatchStatus: atoi(childText(ret, "cStat")),
		BatchReason: childText(ret, "xMotivo"),
	}
	prot := ret.SelectElement("protNFe")
	if prot == nil {
		return res, nil
	}
	inf := prot.SelectElement("infProt")
	if inf == nil {
		return nil, domain.NewTransmissionError("protNFe sin infProt", nil, false)
	}
	res.Status = atoi(childText(inf, "cStat"))
	res.Reason = childText(inf, "xMotivo")
	res.AccessKey = childText(inf, "chNFe")
	res.Protocol = childText(inf, "nProt")
	res.DigestValue = childText(inf, "digVal")
	res.ReceivedAt, _ = time.Parse(time.RFC3339, childText(inf, "dhRecbto"))
	if res.ProtocolXML, err = serializeWithNamespace(prot); err != nil {
		return nil, domain.NewTransmissionError("serializar protNFe", err, false)
	}
	return res, nil
}

// SendEvent envía un envEvento firmado.
func (c *SOAPSefazClient) SendEvent(ctx context.Context, cert *entity.Certificate, env nfe.Environment, uf string, signedEvent []byte) (*EventResult, error) {
	url, err := c.Endpoint(serviceEvent, env, uf)
	if err != nil {
		return nil, err
	}
	root, err := c.call(ctx, cert, url, wsdlEvento, nfe.UFCode(uf), nfe.EventVersion, string(stripDeclaration(signedEvent)))
	if err != nil {
		return nil, err
	}
	ret := root.FindElement("//retEnvEvento")
	if ret == nil {
		return nil, domain.NewTransmissionError("respuesta sin retEnvEvento", nil, false)
	}
	res := &EventResult{
		BatchStatus: atoi(childText(ret, "cStat")),
		BatchReason: childText(ret, "xMotivo"),
	}
	retEvento := ret.SelectElement("retEvento")
	if retEvento == nil {
		return res, nil
	}
	inf := retEvento.SelectElement("infEvento")
	if inf == nil {
		return nil, domain.NewTransmissionError("retEvento sin infEvento", nil, false)
	}
	res.Status = atoi(childText(inf, "cStat"))
	res.Reason = childText(inf, "xMotivo")
	res.Protocol = childText(inf, "nProt")
	res.ReceivedAt, _ = time.Parse(time.RFC3339, childText(inf, "dhRegEvento"))
	if res.ResultXML, err = serializeWithNamespace(retEvento); err != nil {
		return nil, domain.NewTransmissionError("serializar retEvento", err, false)
	}
	return res, nil
}

// call arma el sobre, lo envía con TLS mutuo y devuelve la raíz de la respuesta.
// Errores de red, timeout y HTTP 5xx sin Fault son temporales.
func (c *SOAPSefazClient) call(ctx context.Context, cert *entity.Certificate, url, wsdl, cUF, version, content string) (*etree.Element, error) {
	if cert == nil || cert.Leaf == nil {
		return nil, domain.NewCertificateError("se requiere certificado para transmitir", nil)
	}
	envelope := soapEnvelope{
		XmlnsS: soap12NS,
		Header: soapHeader{Cabec: nfeCabecMsg{Xmlns: wsdl, CUF: cUF, VersaoDados: version}},
		Body:   soapBody{Dados: nfeDadosMsg{Xmlns: wsdl, Content: content}},
	}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="`+wsdl+`"`)

	resp, err := c.httpClient(cert).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewTransmissionError("timeout o cancelación", ctx.Err(), true)
		}
		return nil, domain.NewTransmissionError("llamada HTTP fallida", err, true)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, domain.NewTransmissionError("leer respuesta", err, true)
	}
	return parseResponse(resp.StatusCode, rawBody)
}

func (c *SOAPSefazClient) httpClient(cert *entity.Certificate) *http.Client {
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert.TLS()},
		MinVersion:   tls.VersionTLS12,
		RootCAs:      c.cfg.RootCAs,
	}
	return &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg, DisableKeepAlives: true},
	}
}

// parseResponse desempaqueta el sobre SOAP y detecta Faults.
func parseResponse(status int, rawBody []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(rawBody); err != nil || doc.Root() == nil {
		if status >= 500 {
			return nil, &domain.FiscalError{Kind: domain.ErrTransmission, Code: strconv.Itoa(status), Message: "la SEFAZ no está disponible", Temporary: true}
		}
		if err == nil {
			err = errors.New("cuerpo vacío")
		}
		return nil, domain.NewTransmissionError(fmt.Sprintf("respuesta ilegible (HTTP %d)", status), err, false)
	}
	// Las búsquedas sin prefijo de etree ignoran el namespace; se conserva el árbol
	// original para no alterar la firma del protocolo.
	root := doc.Root()
	if fault := root.FindElement("//Fault"); fault != nil {
		reason := childText(fault.SelectElement("Reason"), "Text")
		if reason == "" {
			reason = childText(fault, "faultstring")
		}
		code := childText(fault.SelectElement("Code"), "Value")
		return nil, &domain.FiscalError{Kind: domain.ErrTransmission, Code: code, Message: "SOAP Fault: " + reason}
	}
	if status >= 500 {
		return nil, &domain.FiscalError{Kind: domain.ErrTransmission, Code: strconv.Itoa(status), Message: "la SEFAZ no está disponible", Temporary: true}
	}
	if status >= 300 {
		return nil, &domain.FiscalError{Kind: domain.ErrTransmission, Code: strconv.Itoa(status), Message: "respuesta HTTP inesperada"}
	}
	return root, nil
}

// serializeWithNamespace devuelve el elemento como documento propio con el namespace de la NF-e.
func serializeWithNamespace(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	if cp.SelectAttr("xmlns") == nil {
		cp.CreateAttr("xmlns", nfe.Namespace)
	}
	doc := etree.NewDocument()
	doc.SetRoot(cp)
	return doc.WriteToBytes()
}

func stripDeclaration(x []byte) []byte {
	x = bytes.TrimSpace(x)
	if bytes.HasPrefix(x, []byte("<?xml")) {
		if i := bytes.Index(x, []byte("?>")); i >= 0 {
			return bytes.TrimSpace(x[i+2:])
		}
	}
	return x
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
