package sefaz

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"
)

// ZipEntry archivo a incluir en el paquete de exportación.
type ZipEntry struct {
	Name     string
	Content  []byte
	Modified time.Time
}

// ProcFilename nombre del archivo de distribución de una NF-e: {chave}-procNFe.xml.
func ProcFilename(accessKey string) string {
	return accessKey + "-procNFe.xml"
}

// EventFilename nombre del procEventoNFe: {chave}-{tpEvento}-{seq}-procEventoNFe.xml.
func EventFilename(accessKey, eventType string, sequence int) string {
	return fmt.Sprintf("%s-%s-%02d-procEventoNFe.xml", accessKey, eventType, sequence)
}

// CompressFiles empaqueta los archivos en un ZIP en memoria, en el orden recibido.
func CompressFiles(entries []ZipEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			return nil, fmt.Errorf("zip: entrada duplicada %s", e.Name)
		}
		seen[e.Name] = true

		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: e.Modified})
		if err != nil {
			return nil, fmt.Errorf("zip: crear entrada %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Content); err != nil {
			return nil, fmt.Errorf("zip: escribir %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}
