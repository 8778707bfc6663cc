package services

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFileExtract_Supported(t *testing.T) {
	s := NewFileExtractService()
	for _, name := range []string{"a.txt", "b.MD", "c.pdf", "d.Docx"} {
		assert.True(t, s.Supported(name), name)
	}
	for _, name := range []string{"a.doc", "b", "c.pptx", "archive.zip"} {
		assert.False(t, s.Supported(name), name)
	}
}

func TestFileExtract_Plain(t *testing.T) {
	s := NewFileExtractService()

	text, err := s.ExtractText("notes.txt", []byte("\xef\xbb\xbfLine one\r\n\r\n\r\n\r\n   Line two   \n"))
	require.NoError(t, err)
	assert.Equal(t, "Line one\n\nLine two", text)

	_, err = s.ExtractText("empty.txt", []byte("  \n \n"))
	assert.Error(t, err)

	_, err = s.ExtractText("binary.txt", []byte{0xff, 0xfe, 0x00})
	assert.Error(t, err)
}

func TestFileExtract_DOCX(t *testing.T) {
	s := NewFileExtractService()
	doc := buildDOCX(t, `<w:document><w:body>`+
		`<w:p><w:r><w:t>Cells &amp; energy</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>ATP</w:t><w:br/><w:t>ADP</w:t></w:r></w:p>`+
		`</w:body></w:document>`)

	text, err := s.ExtractText("lecture.docx", doc)
	require.NoError(t, err)
	assert.Equal(t, "Cells & energy\nATP\nADP", text)

	_, err = s.ExtractText("lecture.docx", buildDOCX(t, `<w:document></w:document>`))
	assert.Error(t, err)

	_, err = s.ExtractText("lecture.docx", []byte("not a zip"))
	assert.Error(t, err)
}

func TestFileExtract_BadPDF(t *testing.T) {
	_, err := NewFileExtractService().ExtractText("slides.pdf", []byte("%PDF-garbage"))
	assert.Error(t, err)
}
