package helper

import (
	"bytes"
)

// Format is the container format of a report payload.
type Format int

const (
	FormatUnknown Format = iota
	FormatXML
	FormatGzip
	FormatZip
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatGzip:
		return "gzip"
	case FormatZip:
		return "zip"
	default:
		return "unknown"
	}
}

// https://en.wikipedia.org/wiki/List_of_file_signatures
var magicTable = []struct {
	magic  []byte
	format Format
}{
	{[]byte{31, 139}, FormatGzip},     // .gz "\x1f\x8b"
	{[]byte{80, 75, 3, 4}, FormatZip}, // .zip "\x50\x4B\x03\x04"
	{[]byte{80, 75, 5, 6}, FormatZip}, // .zip "\x50\x4B\x05\x06"
	{[]byte{80, 75, 7, 8}, FormatZip}, // .zip "\x50\x4B\x07\x08"
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat guesses the container format from the leading bytes.
func DetectFormat(content []byte) Format {
	for _, m := range magicTable {
		if bytes.HasPrefix(content, m.magic) {
			return m.format
		}
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(content, utf8BOM), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return FormatXML
	}
	return FormatUnknown
}

// IsSupportedArchive reports whether content is a gzip or zip archive.
func IsSupportedArchive(content []byte) bool {
	switch DetectFormat(content) {
	case FormatGzip, FormatZip:
		return true
	default:
		return false
	}
}
