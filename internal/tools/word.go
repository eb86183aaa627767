package tools

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	log "log/slog"
	"os"
	"strings"
)

const documentPart = "word/document.xml"

type wordArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// Word reads and rewrites the body text of .docx documents in the datalake.
type Word struct {
	lake Datalake
}

func NewWord(lake Datalake) *Word {
	return &Word{lake: lake}
}

func (w *Word) Tool() Tool {
	return Func("process_word",
		"Process a Word document - read current content and optionally write new content",
		Schema{
			Properties: map[string]Property{
				"file_path": {Type: "string", Description: "Name of the Word document (e.g., 'mydoc.docx')"},
				"content":   {Type: "string", Description: "Optional content to write to the document"},
			},
			Required: []string{"file_path"},
		},
		w.process,
	)
}

func (w *Word) process(_ context.Context, a wordArgs) (string, error) {
	path, err := w.lake.Path(a.FilePath)
	if err != nil {
		return "", err
	}
	path = withExt(path, ".docx")

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Info("Creating document", "path", path)
		if err := writeDocx(path, nil, ""); err != nil {
			return "", err
		}
	}

	initial, err := readDocx(path)
	if err != nil {
		return "", err
	}

	final := initial
	if a.Content != "" {
		if err := writeDocx(path, &path, a.Content); err != nil {
			return "", err
		}
		if final, err = readDocx(path); err != nil {
			return "", err
		}
	}

	sections := []string{"Initial Content:", orEmptyDocument(initial)}
	if a.Content != "" {
		sections = append(sections, "\nWrite Operations:", "Wrote new content: "+a.Content)
	}
	sections = append(sections, "\nFinal Content:", orEmptyDocument(final))
	return strings.Join(sections, "\n"), nil
}

func orEmptyDocument(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "(Empty document)"
	}
	return s
}

// readDocx returns the body text with one line per paragraph.
func readDocx(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()

	part, err := r.Open(documentPart)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	defer part.Close()

	var b strings.Builder
	dec := xml.NewDecoder(part)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", documentPart, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// writeDocx stores text as the document body. When base is set, every other
// part of that package (styles, settings, media) is carried over.
func writeDocx(path string, base *string, text string) error {
	data, err := buildDocx(base, text)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func buildDocx(base *string, text string) ([]byte, error) {
	var parts []*zip.File
	if base != nil {
		r, err := zip.OpenReader(*base)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", *base, err)
		}
		defer r.Close()
		parts = r.File
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if base == nil {
		for _, p := range []struct{ name, body string }{
			{"[Content_Types].xml", contentTypesXML},
			{"_rels/.rels", relsXML},
		} {
			f, err := zw.Create(p.name)
			if err != nil {
				return nil, err
			}
			if _, err := io.WriteString(f, p.body); err != nil {
				return nil, err
			}
		}
	}
	for _, p := range parts {
		if p.Name == documentPart {
			continue
		}
		if err := zw.Copy(p); err != nil {
			return nil, fmt.Errorf("copy %s: %w", p.Name, err)
		}
	}

	f, err := zw.Create(documentPart)
	if err != nil {
		return nil, err
	}
	if err := writeDocumentXML(f, text); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDocumentXML(w io.Writer, text string) error {
	if _, err := io.WriteString(w, xml.Header+`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`); err != nil {
		return err
	}
	if text != "" {
		for _, line := range strings.Split(text, "\n") {
			if _, err := io.WriteString(w, `<w:p><w:r><w:t xml:space="preserve">`); err != nil {
				return err
			}
			if err := xml.EscapeText(w, []byte(line)); err != nil {
				return err
			}
			if _, err := io.WriteString(w, `</w:t></w:r></w:p>`); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, `<w:sectPr/></w:body></w:document>`)
	return err
}

const contentTypesXML = xml.Header + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`</Types>`

const relsXML = xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`
