package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/wml/ctypes"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/flowbridge/bridge/pkg/bridge"
)

// MaxPreviewChars bounds how much extracted text a Preview call returns,
// keeping a document preview well under a typical chat message limit.
const MaxPreviewChars = 2000

// ErrUnsupportedPreview is returned for attachment kinds Preview doesn't
// know how to extract text from.
var ErrUnsupportedPreview = fmt.Errorf("media: no preview extractor for this attachment")

// Preview extracts a short text snippet from a document attachment for
// drivers whose platform can't render the binary itself (plain-text
// targets, webhook relays). It recognizes PDF by its "%PDF" header, and
// DOCX and XLSX by a ZIP signature together with a ".docx" or ".xlsx" name;
// anything else returns ErrUnsupportedPreview.
//
// The extraction libraries used here (gomutex/godocx, ledongthuc/pdf,
// xuri/excelize) only read from a file path, so the attachment's in-memory
// bytes are spilled to a scratch file for the duration of the call.
func Preview(att *bridge.Attachment) (string, error) {
	if len(att.Data) == 0 {
		return "", fmt.Errorf("media: attachment has no data to preview")
	}

	var kind string
	switch {
	case bytes.HasPrefix(att.Data, []byte("%PDF")):
		kind = "pdf"
	case isZipContainer(att.Data) && strings.HasSuffix(strings.ToLower(att.Name), ".xlsx"):
		kind = "xlsx"
	case isZipContainer(att.Data) && strings.HasSuffix(strings.ToLower(att.Name), ".docx"):
		kind = "docx"
	default:
		return "", ErrUnsupportedPreview
	}

	path, cleanup, err := spillToTemp(att.Data, kind)
	if err != nil {
		return "", err
	}
	defer cleanup()

	switch kind {
	case "pdf":
		return previewPDF(path)
	case "xlsx":
		return previewXLSX(path)
	default:
		return previewDOCX(path)
	}
}

func isZipContainer(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K'
}

func spillToTemp(data []byte, kind string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "bridge-preview-*."+kind)
	if err != nil {
		return "", nil, fmt.Errorf("media: creating scratch file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("media: writing scratch file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, func() { os.Remove(name) }, nil
}

func previewPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("media: opening pdf: %w", err)
	}
	defer f.Close()

	plainText, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("media: extracting pdf text: %w", err)
	}

	limited := io.LimitReader(plainText, int64(MaxPreviewChars)*4)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(limited); err != nil {
		return "", fmt.Errorf("media: reading pdf text: %w", err)
	}
	return truncatePreview(buf.String()), nil
}

func previewDOCX(path string) (string, error) {
	document, err := godocx.OpenDocument(path)
	if err != nil {
		return "", fmt.Errorf("media: opening docx: %w", err)
	}
	if document.Document == nil || document.Document.Body == nil {
		return "", fmt.Errorf("media: docx body not found")
	}

	var out strings.Builder
	for _, child := range document.Document.Body.Children {
		if child.Para == nil {
			continue
		}
		appendParagraphText(&out, child.Para.GetCT().Children)
		out.WriteByte('\n')
		if out.Len() >= MaxPreviewChars {
			break
		}
	}
	return truncatePreview(out.String()), nil
}

// appendParagraphText walks a paragraph's run children and appends their
// literal text, skipping non-text run content (breaks, drawings).
func appendParagraphText(builder *strings.Builder, children []ctypes.ParagraphChild) {
	for _, child := range children {
		if child.Run != nil {
			for _, runChild := range child.Run.Children {
				switch {
				case runChild.Text != nil:
					builder.WriteString(runChild.Text.Text)
				case runChild.DelText != nil:
					builder.WriteString(runChild.DelText.Text)
				case runChild.Tab != nil:
					builder.WriteByte('\t')
				case runChild.Break != nil || runChild.CarrRtn != nil:
					appendNewline(builder)
				}
			}
		}
		if child.Link != nil {
			appendParagraphText(builder, child.Link.Children)
		}
	}
}

func appendNewline(builder *strings.Builder) {
	if builder.Len() == 0 {
		return
	}
	if strings.HasSuffix(builder.String(), "\n") {
		return
	}
	builder.WriteByte('\n')
}

func previewXLSX(path string) (string, error) {
	workbook, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("media: opening xlsx: %w", err)
	}
	defer workbook.Close()

	var out strings.Builder
	for _, sheet := range workbook.GetSheetList() {
		if out.Len() >= MaxPreviewChars {
			break
		}
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			if out.Len() >= MaxPreviewChars {
				break
			}
			out.WriteString(strings.Join(row, "\t"))
			out.WriteByte('\n')
		}
	}
	return truncatePreview(out.String()), nil
}

// truncatePreview caps text at MaxPreviewChars without splitting a
// multi-byte rune.
func truncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= MaxPreviewChars {
		return strings.TrimSpace(s)
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:MaxPreviewChars])) + "…"
}
