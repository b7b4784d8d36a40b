package entity

import "github.com/jhoicas/nfe-api/pkg/nfe"

// Indicador de IE del destinatario (indIEDest).
const (
	IEContributor    = "1" // Contribuyente ICMS
	IEExempt         = "2" // Contribuyente exento de inscripción
	IENonContributor = "9" // No contribuyente
)

// Address dirección de emisor o destinatario.
type Address struct {
	Street           string
	Number           string
	Complement       string
	District         string
	MunicipalityCode string // código IBGE, 7 dígitos
	Municipality     string
	UF               string
	PostalCode       string // CEP, 8 dígitos
	CountryCode      string // 1058 = Brasil
	Country          string
	Phone            string
}

// Party emisor o destinatario de la NF-e.
type Party struct {
	CNPJ              string
	Name              string
	TradeName         string
	StateRegistration string  // IE
	IEIndicator       string  // solo destinatario
	CRT               nfe.CRT // solo emisor
	Email             string
	Address           Address
}
