// Servicio de firma digital XMLDSig enveloped para NF-e y eventos.
// Inserta <Signature> como hermano siguiente del elemento firmado (infNFe o infEvento).

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// DigitalSignatureService firma y verifica documentos de la NF-e.
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

// Sign firma el elemento cuyo atributo Id es elementID y devuelve el documento con la firma.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, elementID string, cert *entity.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("nfe: XML vacío")
	}
	if cert == nil || cert.PrivateKey == nil || cert.Leaf == nil {
		return nil, domain.NewCertificateError("el certificado debe incluir llave privada RSA", nil)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("nfe: parsear XML: %w", err)
	}
	target := findByID(doc.Root(), elementID)
	if target == nil {
		return nil, fmt.Errorf("nfe: no se encontró el elemento con Id %q", elementID)
	}
	if target.Parent() == nil {
		return nil, fmt.Errorf("nfe: el elemento %q no puede ser la raíz del documento", elementID)
	}

	// 1) Digest SHA-1 del elemento canonicalizado (con el namespace heredado)
	canonical, err := canonicalElement(target)
	if err != nil {
		return nil, fmt.Errorf("nfe: canonicalizar %s: %w", target.Tag, err)
	}
	digest := sha1.Sum(canonical)
	digestB64 := base64.StdEncoding.EncodeToString(digest[:])

	// 2) SignedInfo canonicalizado y firmado con RSA-SHA1
	canonicalSignedInfo, err := canonicalizeXML([]byte(buildSignedInfo("#"+elementID, digestB64, true)))
	if err != nil {
		return nil, fmt.Errorf("nfe: canonicalizar SignedInfo: %w", err)
	}
	signHash := sha1.Sum(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, cert.PrivateKey, crypto.SHA1, signHash[:])
	if err != nil {
		return nil, domain.NewCertificateError("firmar SignedInfo", err)
	}

	// 3) Nodo Signature con KeyInfo del certificado hoja
	signatureXML := buildSignature(
		buildSignedInfo("#"+elementID, digestB64, false),
		base64.StdEncoding.EncodeToString(signatureValue),
		base64.StdEncoding.EncodeToString(cert.Leaf.Raw),
	)
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("nfe: parsear Signature: %w", err)
	}

	// 4) Inyectar como hermano siguiente del elemento firmado
	target.Parent().InsertChildAt(target.Index()+1, sigDoc.Root())

	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("nfe: serializar XML firmado: %w", err)
	}
	return out.Bytes(), nil
}

// Verify comprueba la primera firma del documento: digest del elemento referenciado y
// valor de la firma con el certificado embebido. Devuelve el certificado firmante.
func (s *DigitalSignatureService) Verify(xmlBytes []byte) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("nfe: parsear XML: %w", err)
	}
	sig := doc.FindElement("//Signature")
	if sig == nil {
		return nil, fmt.Errorf("nfe: el documento no tiene firma")
	}
	signedInfo := sig.SelectElement("SignedInfo")
	if signedInfo == nil {
		return nil, fmt.Errorf("nfe: firma sin SignedInfo")
	}
	ref := signedInfo.SelectElement("Reference")
	digestEl := signedInfo.FindElement("Reference/DigestValue")
	valueEl := sig.SelectElement("SignatureValue")
	certEl := sig.FindElement("KeyInfo/X509Data/X509Certificate")
	if ref == nil || digestEl == nil || valueEl == nil || certEl == nil {
		return nil, fmt.Errorf("nfe: firma incompleta")
	}

	uri := ref.SelectAttrValue("URI", "")
	target := findByID(doc.Root(), strings.TrimPrefix(uri, "#"))
	if target == nil {
		return nil, fmt.Errorf("nfe: la referencia %q no existe en el documento", uri)
	}
	canonical, err := canonicalElement(target)
	if err != nil {
		return nil, fmt.Errorf("nfe: canonicalizar %s: %w", target.Tag, err)
	}
	digest := sha1.Sum(canonical)
	if base64.StdEncoding.EncodeToString(digest[:]) != strings.TrimSpace(digestEl.Text()) {
		return nil, fmt.Errorf("nfe: el digest de %s no coincide", uri)
	}

	certDER, err := base64.StdEncoding.DecodeString(compactBase64(certEl.Text()))
	if err != nil {
		return nil, fmt.Errorf("nfe: X509Certificate inválido: %w", err)
	}
	x509Cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("nfe: parsear certificado de la firma: %w", err)
	}
	pub, ok := x509Cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("nfe: la firma no usa una llave RSA")
	}
	sigValue, err := base64.StdEncoding.DecodeString(compactBase64(valueEl.Text()))
	if err != nil {
		return nil, fmt.Errorf("nfe: SignatureValue inválido: %w", err)
	}
	canonicalSignedInfo, err := canonicalElement(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("nfe: canonicalizar SignedInfo: %w", err)
	}
	hash := sha1.Sum(canonicalSignedInfo)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, hash[:], sigValue); err != nil {
		return nil, fmt.Errorf("nfe: firma inválida: %w", err)
	}
	return x509Cert, nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// canonicalElement canonicaliza un subárbol copiando las declaraciones de namespace que
// hereda de sus ancestros, como exige C14N inclusivo para un documento parcial.
func canonicalElement(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	declared := map[string]bool{}
	for _, a := range cp.Attr {
		if isNamespaceDecl(a) {
			declared[a.FullKey()] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if !isNamespaceDecl(a) || declared[a.FullKey()] {
				continue
			}
			declared[a.FullKey()] = true
			cp.CreateAttr(a.FullKey(), a.Value)
		}
	}
	doc := etree.NewDocument()
	doc.SetRoot(cp)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	return canonicalizeXML(raw)
}

func isNamespaceDecl(a etree.Attr) bool {
	return (a.Space == "" && a.Key == "xmlns") || a.Space == "xmlns"
}

func findByID(root *etree.Element, id string) *etree.Element {
	if root == nil || id == "" {
		return nil
	}
	if root.SelectAttrValue("Id", "") == id {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func buildSignedInfo(uri, digestB64 string, withNamespace bool) string {
	var sb strings.Builder
	if withNamespace {
		sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	} else {
		sb.WriteString(`<SignedInfo>`)
	}
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA1 + `"/>`)
	sb.WriteString(`<Reference URI="` + uri + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// compactBase64 quita saltos de línea y espacios que algunos emisores insertan.
func compactBase64(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}
