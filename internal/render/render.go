// Package render turns analysis text into a paginated PDF document.
//
// Output uses the Helvetica core font, so text must fit the WinAnsi repertoire.
// Turkish letters outside it are folded to their closest ASCII form; any other
// unsupported character is an error rather than a silent omission.
package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrRender = errors.New("render failed")

// Page geometry in PDF points (A4 portrait).
const (
	pageWidth    = 595
	pageHeight   = 842
	margin       = 50
	fontName     = "Helvetica"
	fontSize     = 10
	titleSize    = 14
	lineHeight   = 14
	maxLineRunes = 90
)

// LinesPerPage is how many body lines fit on one page.
const LinesPerPage = (pageHeight - 2*margin) / lineHeight

var disableConfig sync.Once

// Document is the input to Render.
type Document struct {
	Title string
	Body  string
}

// Renderer produces PDF bytes for a Document. It is safe for concurrent use.
type Renderer struct{}

func NewRenderer() *Renderer {
	disableConfig.Do(api.DisableConfigDir)
	return &Renderer{}
}

// Render lays out doc and returns the PDF bytes. The same document always
// yields the same layout.
func (r *Renderer) Render(doc Document) ([]byte, error) {
	pages, err := Layout(doc)
	if err != nil {
		return nil, err
	}

	layout, err := json.Marshal(buildLayout(pages))
	if err != nil {
		return nil, fmt.Errorf("%w: encoding layout: %v", ErrRender, err)
	}

	var buf bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(layout), &buf, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// Layout normalizes doc and wraps it into pages of lines. The title, when
// present, is the first line of the first page.
func Layout(doc Document) ([][]string, error) {
	if !utf8.ValidString(doc.Body) || !utf8.ValidString(doc.Title) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrRender)
	}
	if strings.TrimSpace(doc.Body) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrRender)
	}

	body, err := Normalize(doc.Body)
	if err != nil {
		return nil, err
	}
	title, err := Normalize(strings.TrimSpace(doc.Title))
	if err != nil {
		return nil, err
	}

	var lines []string
	if title != "" {
		lines = append(lines, title, "")
	}
	for _, para := range strings.Split(body, "\n") {
		lines = append(lines, wrap(para, maxLineRunes)...)
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	var pages [][]string
	for start := 0; start < len(lines); start += LinesPerPage {
		end := start + LinesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages, nil
}

var turkishFold = map[rune]string{
	'ğ': "g", 'Ğ': "G",
	'ş': "s", 'Ş': "S",
	'ı': "i", 'İ': "I",
	'−': "-",
	'­': "",
}

// winAnsiExtras are the code points WinAnsiEncoding maps into 0x80-0x9F.
var winAnsiExtras = map[rune]bool{
	'€': true, '‚': true, 'ƒ': true, '„': true, '…': true, '†': true, '‡': true,
	'ˆ': true, '‰': true, 'Š': true, '‹': true, 'Œ': true, 'Ž': true, '‘': true,
	'’': true, '“': true, '”': true, '•': true, '–': true, '—': true, '˜': true,
	'™': true, 'š': true, '›': true, 'œ': true, 'ž': true, 'Ÿ': true,
}

// Normalize folds text into the core-font repertoire. Line breaks are unified
// to \n and tabs become four spaces.
func Normalize(s string) (string, error) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == '\t':
			b.WriteString("    ")
		case r >= 0x20 && r <= 0x7e, r >= 0xa0 && r <= 0xff, winAnsiExtras[r]:
			b.WriteRune(r)
		default:
			folded, ok := turkishFold[r]
			if !ok {
				return "", fmt.Errorf("%w: unsupported character %q at byte %d", ErrRender, r, i)
			}
			b.WriteString(folded)
		}
	}
	return b.String(), nil
}

// wrap breaks a paragraph into lines of at most width runes, splitting on
// spaces and hard-breaking words longer than a line.
func wrap(para string, width int) []string {
	words := strings.Fields(para)
	if len(words) == 0 {
		return []string{""}
	}

	var (
		lines []string
		cur   []rune
	)
	for _, w := range words {
		word := []rune(w)
		for len(word) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(word[:width]))
			word = word[width:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, word...)
		case len(cur)+1+len(word) <= width:
			cur = append(cur, ' ')
			cur = append(cur, word...)
		default:
			lines = append(lines, string(cur))
			cur = append([]rune(nil), word...)
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}

type fontSpec struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type textSpec struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  fontSpec   `json:"font"`
}

type contentSpec struct {
	Text []textSpec `json:"text"`
}

type pageSpec struct {
	Content contentSpec `json:"content"`
}

type docSpec struct {
	Paper string              `json:"paper"`
	Pages map[string]pageSpec `json:"pages"`
}

func buildLayout(pages [][]string) docSpec {
	doc := docSpec{Paper: "A4P", Pages: make(map[string]pageSpec, len(pages))}
	for pi, lines := range pages {
		var texts []textSpec
		for li, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			size := fontSize
			if pi == 0 && li == 0 {
				size = titleSize
			}
			texts = append(texts, textSpec{
				Value: line,
				Pos:   [2]float64{margin, float64(pageHeight - margin - (li+1)*lineHeight)},
				Font:  fontSpec{Name: fontName, Size: size},
			})
		}
		doc.Pages[fmt.Sprint(pi+1)] = pageSpec{Content: contentSpec{Text: texts}}
	}
	return doc
}
