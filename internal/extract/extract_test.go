package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestTextPlainFile(t *testing.T) {
	data := []byte("Jane Doe\r\n\r\n\r\nSoftware   Engineer\x00\r\n- Led the team\r\n")
	got, err := Text("resume.txt", data)
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	want := "Jane Doe\n\nSoftware Engineer\n- Led the team"
	if got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}

func TestTextEmptyPlainFile(t *testing.T) {
	if _, err := Text("resume.txt", []byte("  \n\t ")); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("Text on blank file = %v, want ErrExtractionFailed", err)
	}
}

func TestTextUnsupportedExtension(t *testing.T) {
	for _, name := range []string{"resume.doc", "resume.rtf", "resume", "resume.png"} {
		if _, err := Text(name, []byte("content")); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Text(%q) = %v, want ErrUnsupportedFormat", name, err)
		}
	}
}

func TestTextCorruptPDF(t *testing.T) {
	if _, err := Text("resume.pdf", []byte("this is not a pdf")); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("Text on corrupt pdf = %v, want ErrExtractionFailed", err)
	}
}

func writeDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("writing zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestTextDocx(t *testing.T) {
	doc := `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>Jane Doe</w:t></w:r></w:p><w:p><w:r><w:t>Led the platform</w:t><w:br/><w:t>team of five</w:t></w:r></w:p></w:body></w:document>`
	got, err := Text("resume.docx", writeDocx(t, doc))
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	want := "Jane Doe\nLed the platform\nteam of five"
	if got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}

func TestTextDocxWithoutDocument(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/styles.xml")
	w.Write([]byte("<styles/>"))
	zw.Close()

	if _, err := Text("resume.docx", buf.Bytes()); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("Text on documentless docx = %v, want ErrExtractionFailed", err)
	}
}

func TestTextCorruptDocx(t *testing.T) {
	if _, err := Text("resume.docx", []byte("not a zip")); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("Text on corrupt docx = %v, want ErrExtractionFailed", err)
	}
}

func TestNormalizeCollapsesBlankRuns(t *testing.T) {
	got := normalize("a\n\n\n\n\nb\n")
	if got != "a\n\nb" {
		t.Errorf("normalize = %q, want %q", got, "a\n\nb")
	}
	if strings.Contains(normalize("a \x00 b"), "\x00") {
		t.Error("normalize kept a NUL byte")
	}
}
