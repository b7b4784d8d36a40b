package nfe

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

// AccessKeyLength longitud de la chave de acesso (43 dígitos + DV).
const AccessKeyLength = 44

// AccessKeyParams datos que componen la chave de acesso.
type AccessKeyParams struct {
	UF           string // sigla (SP) o código IBGE (35)
	Year         int    // año de emisión (4 dígitos)
	Month        int
	CNPJ         string
	Model        string // 55 si vacío
	Series       int
	Number       int
	EmissionType int    // tpEmis; 1 si cero
	ControlCode  string // cNF, 8 dígitos
}

// AccessKeyParts descomposición de una chave de acesso existente.
type AccessKeyParts struct {
	UFCode       string
	YearMonth    string // AAMM
	CNPJ         string
	Model        string
	Series       int
	Number       int
	EmissionType int
	ControlCode  string
	CheckDigit   int
}

// BuildAccessKey concatena cUF + AAMM + CNPJ + mod + serie + nNF + tpEmis + cNF
// y agrega el dígito verificador módulo 11.
func BuildAccessKey(p AccessKeyParams) (string, error) {
	cUF := p.UF
	if len(cUF) == 2 && UFCode(cUF) != "" {
		cUF = UFCode(cUF)
	}
	if UFFromCode(cUF) == "" {
		return "", fmt.Errorf("nfe: UF desconocida %q", p.UF)
	}
	cnpj := OnlyDigits(p.CNPJ)
	if len(cnpj) != 14 {
		return "", fmt.Errorf("nfe: CNPJ del emisor debe tener 14 dígitos")
	}
	if p.Month < 1 || p.Month > 12 || p.Year < 2000 {
		return "", fmt.Errorf("nfe: fecha de emisión inválida %04d-%02d", p.Year, p.Month)
	}
	if p.Series < 0 || p.Series > 999 {
		return "", fmt.Errorf("nfe: serie fuera de rango: %d", p.Series)
	}
	if p.Number < 1 || p.Number > 999999999 {
		return "", fmt.Errorf("nfe: número fuera de rango: %d", p.Number)
	}
	model := p.Model
	if model == "" {
		model = Model
	}
	tpEmis := p.EmissionType
	if tpEmis == 0 {
		tpEmis = EmissionNormal
	}
	cNF := OnlyDigits(p.ControlCode)
	if len(cNF) != 8 {
		return "", fmt.Errorf("nfe: código numérico (cNF) debe tener 8 dígitos")
	}
	base := fmt.Sprintf("%s%02d%02d%s%s%03d%09d%d%s",
		cUF, p.Year%100, p.Month, cnpj, model, p.Series, p.Number, tpEmis, cNF)
	return base + strconv.Itoa(CheckDigit(base)), nil
}

// CheckDigit calcula el DV módulo 11 con pesos 2..9 aplicados desde el dígito
// más a la derecha. Resto 0 o 1 resulta en 0.
func CheckDigit(base string) int {
	weight := 2
	var sum int
	for i := len(base) - 1; i >= 0; i-- {
		sum += int(base[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// ValidateAccessKey comprueba longitud, dígitos y DV de una chave de acesso.
func ValidateAccessKey(key string) error {
	if len(key) != AccessKeyLength {
		return fmt.Errorf("nfe: chave de acesso debe tener %d dígitos, se recibieron %d", AccessKeyLength, len(key))
	}
	if OnlyDigits(key) != key {
		return fmt.Errorf("nfe: chave de acesso contiene caracteres no numéricos")
	}
	expected := CheckDigit(key[:43])
	if int(key[43]-'0') != expected {
		return fmt.Errorf("nfe: DV de la chave de acesso inválido: esperado %d, recibido %c", expected, key[43])
	}
	return nil
}

// ParseAccessKey valida y descompone una chave de acesso.
func ParseAccessKey(key string) (AccessKeyParts, error) {
	if err := ValidateAccessKey(key); err != nil {
		return AccessKeyParts{}, err
	}
	series, _ := strconv.Atoi(key[22:25])
	number, _ := strconv.Atoi(key[25:34])
	return AccessKeyParts{
		UFCode:       key[0:2],
		YearMonth:    key[2:6],
		CNPJ:         key[6:20],
		Model:        key[20:22],
		Series:       series,
		Number:       number,
		EmissionType: int(key[34] - '0'),
		ControlCode:  key[35:43],
		CheckDigit:   int(key[43] - '0'),
	}, nil
}

// AccessKeyFromID extrae la chave del atributo Id ("NFe" + 44 dígitos).
func AccessKeyFromID(id string) string {
	if len(id) == len(IDPrefix)+AccessKeyLength && id[:len(IDPrefix)] == IDPrefix {
		return id[len(IDPrefix):]
	}
	return ""
}

// NewControlCode genera el cNF de 8 dígitos aleatorios. Nunca coincide con el número
// del documento, regla de la SEFAZ. Si src es nil se usa crypto/rand.
func NewControlCode(number int, src io.Reader) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	limit := big.NewInt(100000000)
	padded := fmt.Sprintf("%08d", number%100000000)
	for i := 0; i < 16; i++ {
		n, err := rand.Int(src, limit)
		if err != nil {
			return "", fmt.Errorf("nfe: generar cNF: %w", err)
		}
		code := fmt.Sprintf("%08d", n.Int64())
		if code != padded {
			return code, nil
		}
	}
	return "", fmt.Errorf("nfe: no fue posible generar un cNF distinto del número")
}
