package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/firefart/dmarcingest/internal/helper"
)

const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

// upper bound for decompressed payloads
const maxUncompressedSize = 50 << 20

func readAllLimited(r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxUncompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxUncompressedSize {
		return nil, fmt.Errorf("decompressed content exceeds %d bytes", maxUncompressedSize)
	}
	return content, nil
}

func readGZ(content []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("could not gzip read: %w", err)
	}
	defer gz.Close()

	xmlContent, err := readAllLimited(gz)
	if err != nil {
		return nil, fmt.Errorf("could not read: %w", err)
	}
	return xmlContent, nil
}

func readZIP(content []byte) ([]byte, string, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, "", fmt.Errorf("could not open zip: %w", err)
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		x, err := f.Open()
		if err != nil {
			return nil, "", fmt.Errorf("could not open file %s inside zip: %w", f.Name, err)
		}
		xmlContent, err := readAllLimited(x)
		x.Close()
		if err != nil {
			return nil, "", fmt.Errorf("could not read file %s inside zip: %w", f.Name, err)
		}
		// only use first file in the zip file
		return xmlContent, f.FileInfo().Name(), nil
	}
	return nil, "", errors.New("no valid file found within zip archive")
}

// ReadFile unwraps a report attachment or upload. Raw XML, gzip and zip
// (first file only) are supported. The container is chosen by extension and
// falls back to magic bytes for unknown extensions. It returns the name of
// the contained XML file and its content.
func ReadFile(filename string, content []byte) (string, []byte, error) {
	var format helper.Format
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xml":
		format = helper.FormatXML
	case ".gz", ".gzip":
		format = helper.FormatGzip
	case ".zip":
		format = helper.FormatZip
	default:
		format = helper.DetectFormat(content)
	}

	var xmlContent []byte
	var xmlFilename string
	var err error
	switch format {
	case helper.FormatXML:
		xmlContent = content
		xmlFilename = filename
	case helper.FormatGzip:
		xmlContent, err = readGZ(content)
		if err != nil {
			return "", nil, err
		}
		xmlFilename = strings.TrimSuffix(filename, filepath.Ext(filename))
	case helper.FormatZip:
		xmlContent, xmlFilename, err = readZIP(content)
		if err != nil {
			return "", nil, err
		}
	default:
		return "", nil, fmt.Errorf("unsupported file %s", filename)
	}

	// some xmls contain invalid XML by adding an unclosed xs tag
	xmlContent = bytes.ReplaceAll(xmlContent, []byte(xsTag), []byte(""))

	return xmlFilename, xmlContent, nil
}
