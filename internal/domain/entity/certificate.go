package entity

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"strings"
	"time"
	"unicode"
)

// Certificate certificado digital A1 extraído de un PKCS#12. Vive solo en memoria
// durante una operación de firma o transmisión; nunca se persiste.
type Certificate struct {
	PrivateKey *rsa.PrivateKey
	Leaf       *x509.Certificate
	Chain      []*x509.Certificate
}

// ValidAt indica si el certificado está vigente en el instante dado.
func (c *Certificate) ValidAt(t time.Time) bool {
	if c == nil || c.Leaf == nil || c.PrivateKey == nil {
		return false
	}
	return !t.Before(c.Leaf.NotBefore) && !t.After(c.Leaf.NotAfter)
}

// TLS devuelve el par para la conexión TLS mutua con la SEFAZ.
func (c *Certificate) TLS() tls.Certificate {
	chain := [][]byte{c.Leaf.Raw}
	for _, ca := range c.Chain {
		chain = append(chain, ca.Raw)
	}
	return tls.Certificate{Certificate: chain, PrivateKey: c.PrivateKey, Leaf: c.Leaf}
}

// CNPJ extrae el CNPJ del titular. Los certificados e-CNPJ ICP-Brasil usan
// "RAZAO SOCIAL:12345678000195" en el CN; devuelve "" si no lo encuentra.
func (c *Certificate) CNPJ() string {
	if c == nil || c.Leaf == nil {
		return ""
	}
	cn := c.Leaf.Subject.CommonName
	idx := strings.LastIndex(cn, ":")
	if idx < 0 {
		return ""
	}
	digits := strings.TrimFunc(cn[idx+1:], func(r rune) bool { return !unicode.IsDigit(r) })
	if len(digits) != 14 {
		return ""
	}
	return digits
}
