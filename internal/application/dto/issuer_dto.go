package dto

import (
	"time"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// IssuerProfileDTO perfil del emisor de la empresa (GET/PUT /api/nfe/issuer).
type IssuerProfileDTO struct {
	CompanyID     string    `json:"company_id"`
	Party         PartyDTO  `json:"party"`
	DefaultSeries int       `json:"default_series"`
	Environment   string    `json:"environment"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CertificateInfoDTO datos públicos de un certificado A1 (nunca la clave).
type CertificateInfoDTO struct {
	Subject     string    `json:"subject"`
	CNPJ        string    `json:"cnpj,omitempty"`
	Issuer      string    `json:"issuer"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	Fingerprint string    `json:"fingerprint"`
	Valid       bool      `json:"valid"`
}

// ToIssuerProfileDTO convierte el perfil a su forma JSON.
func ToIssuerProfileDTO(p *entity.IssuerProfile) IssuerProfileDTO {
	return IssuerProfileDTO{
		CompanyID:     p.CompanyID,
		Party:         toPartyDTO(p.Party),
		DefaultSeries: p.DefaultSeries,
		Environment:   string(p.Environment),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
