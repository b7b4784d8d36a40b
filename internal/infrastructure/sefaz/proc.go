package sefaz

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// AssembleNFeProc une la NF-e firmada con el protNFe devuelto por la SEFAZ en un
// <nfeProc versao="4.00">, el documento de distribución que se guarda y se entrega.
func AssembleNFeProc(signedNFe, protNFe []byte) ([]byte, error) {
	nfeEl, err := rootOf(signedNFe, "NFe")
	if err != nil {
		return nil, err
	}
	protEl, err := rootOf(protNFe, "protNFe")
	if err != nil {
		return nil, err
	}
	return wrap("nfeProc", nfe.LayoutVersion, nfeEl, protEl)
}

// AssembleEventProc une el evento firmado (extraído de envEvento) con su retEvento en
// un <procEventoNFe versao="1.00">.
func AssembleEventProc(signedEnvEvento, retEvento []byte) ([]byte, error) {
	env, err := rootOf(signedEnvEvento, "envEvento")
	if err != nil {
		return nil, err
	}
	evento := env.SelectElement("evento")
	if evento == nil {
		return nil, fmt.Errorf("nfe: envEvento sin evento")
	}
	if evento.SelectAttr("xmlns") == nil {
		evento.CreateAttr("xmlns", nfe.Namespace)
	}
	retEl, err := rootOf(retEvento, "retEvento")
	if err != nil {
		return nil, err
	}
	return wrap("procEventoNFe", nfe.EventVersion, evento, retEl)
}

func wrap(tag, version string, children ...*etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(tag)
	root.CreateAttr("xmlns", nfe.Namespace)
	root.CreateAttr("versao", version)
	for _, c := range children {
		root.AddChild(c)
	}
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("nfe: serializar %s: %w", tag, err)
	}
	return out, nil
}

func rootOf(data []byte, tag string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("nfe: parsear %s: %w", tag, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != tag {
		return nil, fmt.Errorf("nfe: se esperaba <%s>", tag)
	}
	return root, nil
}
