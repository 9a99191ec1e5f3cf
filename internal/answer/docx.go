package answer

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// docx loads the body text of a Word document. Paragraphs become lines.
type docx struct {
	r    io.ReaderAt
	size int64
}

func newDocx(r io.ReaderAt, size int64) docx {
	return docx{r: r, size: size}
}

// Load implements documentloaders.Loader.
func (d docx) Load(_ context.Context) ([]schema.Document, error) {
	zr, err := zip.NewReader(d.r, d.size)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()

		text, err := docxText(rc)
		if err != nil {
			return nil, err
		}
		return []schema.Document{{PageContent: text, Metadata: map[string]any{}}}, nil
	}
	return nil, fmt.Errorf("open docx: word/document.xml not found")
}

// LoadAndSplit implements documentloaders.Loader.
func (d docx) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := d.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}

// docxText walks WordprocessingML, collecting <w:t> runs and breaking
// lines at paragraph ends, tabs and explicit breaks.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
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
	return strings.TrimSpace(b.String()), nil
}
