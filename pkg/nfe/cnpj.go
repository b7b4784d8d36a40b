package nfe

import "fmt"

// pesos del primer y segundo dígito verificador del CNPJ, aplicados de izquierda a derecha.
var (
	cnpjWeights1 = [12]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = [13]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateCNPJ valida un CNPJ con o sin máscara ("11.222.333/0001-81" o "11222333000181")
// según el algoritmo módulo 11 de la Receita Federal. Rechaza secuencias de un mismo dígito.
func ValidateCNPJ(cnpj string) error {
	digits := OnlyDigits(cnpj)
	if len(digits) != 14 {
		return fmt.Errorf("nfe: CNPJ debe tener 14 dígitos, se encontraron %d", len(digits))
	}
	if repeated(digits) {
		return fmt.Errorf("nfe: CNPJ con dígitos repetidos")
	}
	dv1 := cnpjDigit(digits[:12], cnpjWeights1[:])
	dv2 := cnpjDigit(digits[:12]+string(dv1), cnpjWeights2[:])
	if digits[12] != dv1 || digits[13] != dv2 {
		return fmt.Errorf("nfe: dígitos verificadores del CNPJ inválidos: esperado %c%c, recibido %s", dv1, dv2, digits[12:])
	}
	return nil
}

// ComputeCNPJDigits calcula los dos dígitos verificadores para los 12 primeros dígitos.
func ComputeCNPJDigits(base string) (string, error) {
	digits := OnlyDigits(base)
	if len(digits) < 12 {
		return "", fmt.Errorf("nfe: se requieren 12 dígitos para calcular el DV del CNPJ, se encontraron %d", len(digits))
	}
	digits = digits[:12]
	dv1 := cnpjDigit(digits, cnpjWeights1[:])
	dv2 := cnpjDigit(digits+string(dv1), cnpjWeights2[:])
	return string([]byte{dv1, dv2}), nil
}

// CNPJRoot devuelve la raíz (8 primeros dígitos) que identifica a la empresa.
func CNPJRoot(cnpj string) string {
	digits := OnlyDigits(cnpj)
	if len(digits) < 8 {
		return digits
	}
	return digits[:8]
}

func cnpjDigit(digits string, weights []int) byte {
	var sum int
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + (11 - r))
}

func repeated(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

// OnlyDigits elimina todo carácter que no sea dígito ASCII (CNPJ, IE, CEP, teléfono).
func OnlyDigits(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}
