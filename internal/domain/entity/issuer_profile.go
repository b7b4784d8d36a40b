package entity

import (
	"time"

	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// IssuerProfile datos del emisor asociados a una empresa (tenant).
type IssuerProfile struct {
	CompanyID     string
	Party         Party
	DefaultSeries int
	Environment   nfe.Environment
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session contexto explícito de cada operación: quién opera y en nombre de qué emisor.
type Session struct {
	CompanyID   string
	UserID      string
	Issuer      IssuerProfile
	Environment nfe.Environment
	UF          string
}
