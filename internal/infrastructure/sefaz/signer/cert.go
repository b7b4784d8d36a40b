// Carga del certificado A1 desde un PKCS#12 (.pfx/.p12) recibido en memoria.

package signer

import (
	"crypto/rsa"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// LoadFromPKCS12 decodifica el PKCS#12 con su cadena de CA. Contraseña incorrecta, datos
// corruptos, llave que no sea RSA o certificado fuera de vigencia devuelven ErrCertificate.
func LoadFromPKCS12(data []byte, password string) (*entity.Certificate, error) {
	return LoadFromPKCS12At(data, password, time.Now())
}

// LoadFromPKCS12At igual que LoadFromPKCS12 pero valida la vigencia en el instante dado.
func LoadFromPKCS12At(data []byte, password string, now time.Time) (*entity.Certificate, error) {
	cert, err := DecodePKCS12(data, password)
	if err != nil {
		return nil, err
	}
	if !cert.ValidAt(now) {
		return nil, domain.NewCertificateError("certificado fuera de vigencia (vence "+cert.Leaf.NotAfter.Format("2006-01-02")+")", nil)
	}
	return cert, nil
}

// DecodePKCS12 abre el PKCS#12 sin validar la vigencia; sirve para diagnóstico.
func DecodePKCS12(data []byte, password string) (*entity.Certificate, error) {
	if len(data) == 0 {
		return nil, domain.NewCertificateError("archivo de certificado vacío", nil)
	}
	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, domain.NewCertificateError("no se pudo abrir el PKCS#12 (contraseña o archivo inválido)", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, domain.NewCertificateError("el certificado debe incluir llave privada RSA", nil)
	}
	return &entity.Certificate{PrivateKey: priv, Leaf: leaf, Chain: chain}, nil
}

// Fingerprint huella SHA-1 del certificado hoja en hexadecimal, para logs y diagnóstico.
func Fingerprint(cert *entity.Certificate) string {
	if cert == nil || cert.Leaf == nil {
		return ""
	}
	sum := sha1.Sum(cert.Leaf.Raw)
	return hex.EncodeToString(sum[:])
}
