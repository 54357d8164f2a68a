// Package extract turns uploaded resume and job-description files into
// plain text, and fetches job postings from URLs.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for file extensions we do not handle.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrExtractionFailed is returned when a supported file yields no usable
// text, for example a corrupt or image-only PDF.
var ErrExtractionFailed = errors.New("text extraction failed")

// Text extracts plain text from an uploaded file, dispatching on the
// file name's extension. Line structure is preserved where the format
// carries it; resumes are analyzed line by line downstream.
func Text(fileName string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return pdfText(data)
	case ".docx":
		return docxText(data)
	case ".txt", ".md", ".text":
		text := normalize(string(data))
		if text == "" {
			return "", fmt.Errorf("%w: empty text file", ErrExtractionFailed)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(fileName))
	}
}

// pdfText walks the document page by page, skipping pages the parser
// cannot decode rather than failing the whole file.
func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: opening pdf: %v", ErrExtractionFailed, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = normalize(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("%w: no text in pdf", ErrExtractionFailed)
	}
	return strings.Join(pages, "\n\n"), nil
}

// docxText reads word/document.xml out of the archive and flattens its
// runs, turning paragraph ends and breaks into newlines.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: opening docx: %v", ErrExtractionFailed, err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("%w: docx has no word/document.xml", ErrExtractionFailed)
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("%w: reading docx: %v", ErrExtractionFailed, err)
	}
	defer rc.Close()

	var sb strings.Builder
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parsing docx xml: %v", ErrExtractionFailed, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			switch t.Name.Local {
			case "br":
				sb.WriteByte('\n')
			case "tab":
				sb.WriteByte('\t')
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				sb.WriteByte('\n')
			}
		}
	}

	text := normalize(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: no text in docx", ErrExtractionFailed)
	}
	return text, nil
}

// normalize strips NULs and invalid UTF-8, collapses intra-line
// whitespace, and caps blank runs at one line.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	blanks := 0
	for line := range strings.Lines(text) {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
