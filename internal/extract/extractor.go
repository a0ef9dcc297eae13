// Package extract turns uploaded attachment bytes into a plain-text excerpt
// used to enrich chat prompts. Extraction is best-effort: any failure or
// unsupported input degrades to "no excerpt", never to an error.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/Physix85/Venus-AI/pkg/domain"
)

const (
	maxExcerptLen = 20000
	maxCSVRows    = 200
)

// Excerpt extracts text from attachment bytes according to the declared media
// type. A nil result means no text could be extracted, which is a valid and
// common outcome (images, scanned PDFs, broken files).
func Excerpt(mediaType domain.MediaType, name string, data []byte) *string {
	var (
		text string
		err  error
	)
	switch mediaType {
	case domain.MediaPDF:
		text, err = fromPDF(data)
	case domain.MediaDocx:
		text, err = fromDocx(data)
	case domain.MediaCSV:
		text, err = fromCSV(data)
	case domain.MediaHTML:
		text, err = fromHTML(data)
	case domain.MediaText:
		text = string(data)
	default:
		// Images and anything else carry no extractable text.
		return nil
	}
	if err != nil {
		slog.Warn("attachment extraction failed", "name", name, "media_type", string(mediaType), "err", err)
		return nil
	}
	text = normalize(text)
	if text == "" {
		return nil
	}
	return &text
}

func fromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the whole file.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text in pdf")
	}
	return sb.String(), nil
}

// fromDocx reads the main document part out of the docx zip container and
// collects the text runs.
func fromDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document part: %w", err)
			}
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx missing document part")
	}
	defer doc.Close()

	decoder := xml.NewDecoder(doc)
	var sb strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "p", "br", "tab":
				sb.WriteString(" ")
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

func fromCSV(data []byte) (string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	var lines []string
	for i := 0; ; i++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		if i == 0 {
			lines = append(lines, "Header: "+strings.Join(row, ", "))
		} else {
			lines = append(lines, "Row "+strconv.Itoa(i)+": "+strings.Join(row, ", "))
		}
		// Cap rows to keep the prompt small.
		if i >= maxCSVRows {
			break
		}
	}
	return strings.Join(lines, "\n"), nil
}

func fromHTML(data []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return sb.String(), nil
}

// normalize collapses whitespace and caps length, mirroring what the prompt
// assembly expects.
func normalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxExcerptLen {
		// Cap counts characters, not bytes; never cut a rune in half.
		text = string([]rune(text)[:maxExcerptLen])
	}
	return text
}
