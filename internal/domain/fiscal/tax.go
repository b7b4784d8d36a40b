// Package fiscal contiene las reglas de dominio de la NF-e: cálculo de impuestos,
// totales, ciclo de vida y validación previa a la firma.
package fiscal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/pkg/nfe"
)

var hundred = decimal.NewFromInt(100)

func percentOf(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}

// ComputeLine calcula el total del ítem y sus bloques de ICMS, PIS, COFINS e IPI según
// el régimen del emisor. idx es la posición del ítem, usada en los campos de error.
func ComputeLine(crt nfe.CRT, idx int, item *entity.LineItem) error {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", idx, name) }

	item.Total = item.Quantity.Mul(item.UnitPrice).Round(2)
	total := item.Total
	var tv entity.TaxValues

	switch s := item.Tax.ICMS.(type) {
	case entity.NormalICMS:
		if crt.UsesCSOSN() {
			return domain.NewValidationError(field("icms"), "el Simples Nacional exige CSOSN, se recibió CST "+string(s.CST))
		}
		if !s.CST.Valid() {
			return domain.NewValidationError(field("icms"), "CST de ICMS desconocido: "+string(s.CST))
		}
		if s.CST.Taxed() {
			base := total
			if s.CST == nfe.ICMSCST20 && s.BaseReduction.IsPositive() {
				base = total.Mul(hundred.Sub(s.BaseReduction)).Div(hundred).Round(2)
			}
			tv.ICMSBase = base
			tv.ICMSValue = percentOf(base, s.Rate)
		}
	case entity.SimplesICMS:
		if !crt.UsesCSOSN() {
			return domain.NewValidationError(field("icms"), "el régimen normal exige CST, se recibió CSOSN "+string(s.CSOSN))
		}
		if !s.CSOSN.Valid() {
			return domain.NewValidationError(field("icms"), "CSOSN desconocido: "+string(s.CSOSN))
		}
		if s.CSOSN.CreditBearing() && s.CreditRate.IsPositive() {
			tv.ICMSCredit = percentOf(total, s.CreditRate)
		}
	case nil:
		return domain.NewValidationError(field("icms"), "situación de ICMS requerida")
	default:
		return domain.NewValidationError(field("icms"), fmt.Sprintf("situación de ICMS no soportada: %T", s))
	}

	var err error
	if tv.PISBase, tv.PISValue, err = contribution(item.Tax.PIS, total); err != nil {
		return domain.NewValidationError(field("pis"), err.Error())
	}
	if tv.COFINSBase, tv.COFINSValue, err = contribution(item.Tax.COFINS, total); err != nil {
		return domain.NewValidationError(field("cofins"), err.Error())
	}

	if item.Tax.IPI.CST == "" {
		item.Tax.IPI.CST = nfe.IPIDefaultCST
	}
	if item.Tax.IPI.EnqCode == "" {
		item.Tax.IPI.EnqCode = nfe.IPIDefaultEnq
	}
	ipi := item.Tax.IPI
	if !ipi.CST.Valid() {
		return domain.NewValidationError(field("ipi"), "CST de IPI desconocido: "+string(ipi.CST))
	}
	if ipi.CST.Taxed() {
		tv.IPIBase = total
		if ipi.CST == nfe.IPICST51 {
			item.Tax.IPI.Rate = decimal.Zero
		} else {
			tv.IPIValue = percentOf(total, ipi.Rate)
		}
	}

	if item.Tax.Origin == "" {
		item.Tax.Origin = nfe.OriginNational
	}
	item.Tax.Computed = tv
	return nil
}

func contribution(t entity.ContributionTax, total decimal.Decimal) (base, value decimal.Decimal, err error) {
	if !t.CST.Valid() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("CST desconocido: %q", string(t.CST))
	}
	if !t.CST.Taxed() {
		return decimal.Zero, decimal.Zero, nil
	}
	return total, percentOf(total, t.Rate), nil
}

// ComputeTotals agrega los ítems y los ajustes de la nota. El total de la nota es
// productos + IPI + flete + seguro + otros - descuento, nunca menor que cero; clamped
// indica que el valor calculado era negativo.
func ComputeTotals(items []entity.LineItem, adj entity.Adjustments) (totals entity.Totals, clamped bool) {
	for _, it := range items {
		tv := it.Tax.Computed
		totals.Products = totals.Products.Add(it.Total)
		totals.ICMSBase = totals.ICMSBase.Add(tv.ICMSBase)
		totals.ICMSValue = totals.ICMSValue.Add(tv.ICMSValue)
		totals.ICMSCredit = totals.ICMSCredit.Add(tv.ICMSCredit)
		totals.IPIValue = totals.IPIValue.Add(tv.IPIValue)
		totals.PISValue = totals.PISValue.Add(tv.PISValue)
		totals.COFINSValue = totals.COFINSValue.Add(tv.COFINSValue)
	}
	totals.Freight = adj.Freight.Round(2)
	totals.Insurance = adj.Insurance.Round(2)
	totals.Discount = adj.Discount.Round(2)
	totals.Other = adj.Other.Round(2)

	grand := totals.Products.
		Add(totals.IPIValue).
		Add(totals.Freight).
		Add(totals.Insurance).
		Add(totals.Other).
		Sub(totals.Discount)
	if grand.IsNegative() {
		totals.GrandTotal = decimal.Zero
		return totals, true
	}
	totals.GrandTotal = grand
	return totals, false
}

// Recalculate recalcula todos los ítems y los totales de la nota. Se invoca ante
// cualquier cambio de ítems, pagos o ajustes. Devuelve el total previo al piso en cero
// cuando éste se aplicó, para que el llamador lo registre.
func Recalculate(inv *entity.Invoice) (preClamp decimal.Decimal, err error) {
	var errs []error
	for i := range inv.Items {
		inv.Items[i].Number = i + 1
		if e := ComputeLine(inv.Issuer.CRT, i, &inv.Items[i]); e != nil {
			errs = append(errs, e)
		}
	}
	if len(errs) > 0 {
		return decimal.Zero, errors.Join(errs...)
	}
	totals, clamped := ComputeTotals(inv.Items, inv.Adjustments)
	inv.Totals = totals
	inv.TotalsClamped = clamped
	if clamped {
		preClamp = totals.Products.Add(totals.IPIValue).Add(totals.Freight).
			Add(totals.Insurance).Add(totals.Other).Sub(totals.Discount)
	}
	return preClamp, nil
}
