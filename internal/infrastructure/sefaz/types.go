// Package sefaz implementa la generación, importación y transmisión del XML de la
// NF-e (layout 4.00) y de sus eventos ante las SEFAZ autorizadoras.
package sefaz

import (
	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// DefaultVerProc versión del aplicativo emisor informada en ide/verProc.
const DefaultVerProc = "nfe-api 1.0"

// InvoiceBuildContext datos necesarios para construir el XML de la nota.
type InvoiceBuildContext struct {
	Invoice *entity.Invoice
	VerProc string // ide/verProc; DefaultVerProc si vacío
}
