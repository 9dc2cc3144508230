// Package extract inspects uploaded payloads: content sniffing, file kind and PDF page counts.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeGIF  = "image/gif"
	MimeWebP = "image/webp"
	mimeZip  = "application/zip"
	mimeBin  = "application/octet-stream"
)

var (
	pdfMagic = []byte("%PDF-")
	// OLE compound file header used by legacy .doc files
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// Kind is the coarse file category stored with a document.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	KindWord  Kind = "word"
)

var (
	// ErrUnsupported is returned for anything that is not a PDF, raster image or Word file.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrMismatch is returned when the declared content type disagrees with the payload.
	ErrMismatch = fmt.Errorf("%w: declared type does not match content", ErrUnsupported)
)

// Sniff identifies a payload from its leading bytes. Zip containers holding a Word
// document map to DOCX; everything else comes from http.DetectContentType.
func Sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return MimePDF
	case bytes.HasPrefix(data, oleMagic):
		return MimeDOC
	}
	detected := cleanType(http.DetectContentType(data))
	if detected == mimeZip && mapOOXMLFromZip(data) != "" {
		return MimeDOCX
	}
	return detected
}

// Classify maps a MIME type to a Kind. Images are limited to raster formats.
func Classify(mimeType string) (Kind, error) {
	switch cleanType(mimeType) {
	case MimePDF:
		return KindPDF, nil
	case MimeDOC, MimeDOCX:
		return KindWord, nil
	case MimePNG, MimeJPEG, MimeGIF, MimeWebP:
		return KindImage, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
}

// Inspect sniffs the payload, classifies it and checks it against the declared
// content type. The returned MIME type always comes from the content; a declared
// type is only used to reject payloads that claim to be something else.
func Inspect(declared string, data []byte) (string, Kind, error) {
	mimeType := Sniff(data)
	kind, err := Classify(mimeType)
	if err != nil {
		return mimeType, "", err
	}
	claimed := cleanType(declared)
	if claimed == "" || claimed == mimeBin || claimed == mimeZip {
		return mimeType, kind, nil
	}
	if claimedKind, err := Classify(claimed); err != nil || claimedKind != kind {
		return mimeType, "", fmt.Errorf("%w: %s vs %s", ErrMismatch, claimed, mimeType)
	}
	return mimeType, kind, nil
}

// PDFPageCount returns the number of pages in a PDF payload.
func PDFPageCount(ctx context.Context, data []byte) (pages int, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = 0, fmt.Errorf("read pdf: %v", rec)
		}
	}()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.New("empty pdf data")
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return r.NumPage(), nil
}

func cleanType(raw string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(raw, ";")[0]))
}

func mapOOXMLFromZip(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return MimeDOCX
		}
	}
	return ""
}
