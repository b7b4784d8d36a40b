// Command certcheck diagnostica un certificado A1 antes de usarlo para emitir:
// lee el .pfx, lo abre con la contraseña y muestra titular, CNPJ y vigencia.
//
//	certcheck -cert certificado.pfx            (contraseña en NFE_CERT_PASSWORD)
//	certcheck -cert certificado.pfx -pass 1234 -json
package main

import (
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/jhoicas/nfe-api/internal/application/billing"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

func main() {
	certPath := flag.String("cert", "", "ruta del certificado A1 (.pfx/.p12)")
	password := flag.String("pass", os.Getenv("NFE_CERT_PASSWORD"), "contraseña del certificado")
	asJSON := flag.Bool("json", false, "imprimir el resultado en JSON")
	flag.Parse()

	log := logger.New(logger.Config{Env: "development", Level: "info"}).Component("certcheck")

	if *certPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	// ── 1. Archivo ───────────────────────────────────────────────────────────
	data, err := os.ReadFile(*certPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *certPath).Msg("no se pudo leer el archivo")
	}
	log.Info().Str("path", *certPath).Int("bytes", len(data)).Msg("archivo encontrado")

	// ── 2. Contraseña y formato ─────────────────────────────────────────────
	info, err := billing.InspectCertificate(data, *password, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("contraseña incorrecta o PKCS#12 inválido")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			log.Fatal().Err(err).Msg("serializar resultado")
		}
		return
	}

	// ── 3. Vigencia ──────────────────────────────────────────────────────────
	ev := log.Info()
	if !info.Valid {
		ev = log.Warn()
	}
	ev.Str("subject", info.Subject).
		Str("cnpj", info.CNPJ).
		Str("issuer", info.Issuer).
		Time("not_before", info.NotBefore).
		Time("not_after", info.NotAfter).
		Str("sha1", info.Fingerprint).
		Bool("valid", info.Valid).
		Msg("certificado A1")
	if !info.Valid {
		os.Exit(1)
	}
}
