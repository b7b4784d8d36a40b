package fiscal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

// ValidateForSigning valida la nota antes de generar la chave y firmar: identificadores,
// direcciones, ítems, coherencia de régimen y pagos. Devuelve todos los errores juntos.
// cert puede ser nil; si trae CNPJ en el titular debe coincidir en raíz con el emisor.
func ValidateForSigning(inv *entity.Invoice, cert *entity.Certificate) error {
	if inv == nil {
		return domain.NewValidationError("invoice", "nota nula")
	}
	var errs []error
	add := func(field, msg string) { errs = append(errs, domain.NewValidationError(field, msg)) }

	if !inv.Issuer.CRT.Valid() {
		add("issuer.crt", fmt.Sprintf("CRT inválido: %d", inv.Issuer.CRT))
	}
	errs = append(errs, validateParty("issuer", inv.Issuer, true)...)
	errs = append(errs, validateParty("recipient", inv.Recipient, false)...)

	if nfe.UFCode(inv.Issuer.Address.UF) == "" {
		add("issuer.address.uf", "UF del emisor desconocida")
	}
	if inv.Series < 0 || inv.Series > 999 {
		add("series", "serie fuera de rango (0-999)")
	}
	if inv.Number < 1 || inv.Number > 999999999 {
		add("number", "número fuera de rango (1-999999999)")
	}
	if strings.TrimSpace(inv.NatureOfOperation) == "" {
		add("nature_of_operation", "naturaleza de la operación requerida")
	}

	if len(inv.Items) == 0 {
		add("items", "la nota debe tener al menos un ítem")
	}
	for i, it := range inv.Items {
		f := func(name string) string { return fmt.Sprintf("items[%d].%s", i, name) }
		if strings.TrimSpace(it.Description) == "" {
			add(f("description"), "descripción requerida")
		}
		if strings.TrimSpace(it.ProductCode) == "" {
			add(f("product_code"), "código de producto requerido")
		}
		if len(nfe.OnlyDigits(it.NCM)) != 8 {
			add(f("ncm"), "NCM debe tener 8 dígitos")
		}
		if len(nfe.OnlyDigits(it.CFOP)) != 4 {
			add(f("cfop"), "CFOP debe tener 4 dígitos")
		}
		if !it.Quantity.IsPositive() {
			add(f("quantity"), "cantidad debe ser mayor que cero")
		}
		if it.UnitPrice.IsNegative() {
			add(f("unit_price"), "precio unitario negativo")
		}
		if it.Tax.ICMS == nil {
			add(f("icms"), "situación de ICMS requerida")
		} else if it.Tax.ICMS.Simples() != inv.Issuer.CRT.UsesCSOSN() {
			add(f("icms"), "la situación de ICMS no corresponde al régimen del emisor")
		}
	}

	if adj := inv.Adjustments; adj.Freight.IsNegative() || adj.Insurance.IsNegative() ||
		adj.Discount.IsNegative() || adj.Other.IsNegative() {
		add("adjustments", "los ajustes no pueden ser negativos")
	}

	errs = append(errs, validatePayments(inv)...)

	if cn := cert.CNPJ(); cn != "" && nfe.CNPJRoot(cn) != nfe.CNPJRoot(inv.Issuer.CNPJ) {
		add("certificate", "el certificado pertenece a otro CNPJ")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateParty(prefix string, p entity.Party, issuer bool) []error {
	var errs []error
	add := func(field, msg string) { errs = append(errs, domain.NewValidationError(prefix+"."+field, msg)) }

	if err := nfe.ValidateCNPJ(p.CNPJ); err != nil {
		add("cnpj", err.Error())
	}
	if strings.TrimSpace(p.Name) == "" {
		add("name", "razón social requerida")
	}
	if issuer && nfe.OnlyDigits(p.StateRegistration) == "" {
		add("state_registration", "IE del emisor requerida")
	}
	if !issuer && p.IEIndicator == entity.IEContributor && nfe.OnlyDigits(p.StateRegistration) == "" {
		add("state_registration", "IE requerida para destinatario contribuyente")
	}
	a := p.Address
	if strings.TrimSpace(a.Street) == "" {
		add("address.street", "logradouro requerido")
	}
	if strings.TrimSpace(a.Number) == "" {
		add("address.number", "número requerido")
	}
	if strings.TrimSpace(a.District) == "" {
		add("address.district", "bairro requerido")
	}
	if len(nfe.OnlyDigits(a.MunicipalityCode)) != 7 {
		add("address.municipality_code", "código de municipio IBGE debe tener 7 dígitos")
	}
	if strings.TrimSpace(a.Municipality) == "" {
		add("address.municipality", "municipio requerido")
	}
	if nfe.UFCode(a.UF) == "" {
		add("address.uf", "UF desconocida: "+a.UF)
	}
	if len(nfe.OnlyDigits(a.PostalCode)) != 8 {
		add("address.postal_code", "CEP debe tener 8 dígitos")
	}
	return errs
}

func validatePayments(inv *entity.Invoice) []error {
	if len(inv.Payments) == 0 {
		return []error{domain.NewValidationError("payments", "informe al menos una forma de pago")}
	}
	var errs []error
	sum := decimal.Zero
	for i, p := range inv.Payments {
		if !nfe.ValidPaymentCodes[p.Method] {
			errs = append(errs, domain.NewValidationError(fmt.Sprintf("payments[%d].method", i), "forma de pago desconocida: "+p.Method))
		}
		if p.Method == nfe.PaymentNone {
			if !inv.Totals.GrandTotal.IsZero() {
				errs = append(errs, domain.NewValidationError(fmt.Sprintf("payments[%d].method", i), "sin pago solo aplica a notas de valor cero"))
			}
			continue
		}
		if p.Amount.IsNegative() {
			errs = append(errs, domain.NewValidationError(fmt.Sprintf("payments[%d].amount", i), "monto negativo"))
		}
		sum = sum.Add(p.Amount)
	}
	if len(errs) == 0 && !sum.Round(2).Equal(inv.Totals.GrandTotal) && !(sum.IsZero() && inv.Totals.GrandTotal.IsZero()) {
		errs = append(errs, domain.NewValidationError("payments", fmt.Sprintf("la suma de pagos (%s) no coincide con el total de la nota (%s)",
			sum.StringFixed(2), inv.Totals.GrandTotal.StringFixed(2))))
	}
	return errs
}
