package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FoldsTurkishLetters(t *testing.T) {
	got, err := Normalize("Gelir vergisi beyannamesi: ığüşöç İĞÜŞÖÇ")
	require.NoError(t, err)
	assert.Equal(t, "Gelir vergisi beyannamesi: igüsöç IGÜSÖÇ", got)
}

func TestNormalize_LineEndingsAndTabs(t *testing.T) {
	got, err := Normalize("a\r\nb\rc\td")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc    d", got)
}

func TestNormalize_KeepsWinAnsiPunctuation(t *testing.T) {
	got, err := Normalize("Toplam: 1.250,00 € – “onaylı”")
	require.NoError(t, err)
	assert.Equal(t, "Toplam: 1.250,00 € – “onayli”", got)
}

func TestNormalize_RejectsUnsupportedCharacter(t *testing.T) {
	_, err := Normalize("tamam 漢字")
	require.ErrorIs(t, err, ErrRender)
	assert.Contains(t, err.Error(), "unsupported character")
}

func TestLayout_EmptyBody(t *testing.T) {
	_, err := Layout(Document{Title: "Rapor", Body: "  \n\t "})
	assert.ErrorIs(t, err, ErrRender)
}

func TestLayout_InvalidUTF8(t *testing.T) {
	_, err := Layout(Document{Body: string([]byte{0xff, 0xfe})})
	assert.ErrorIs(t, err, ErrRender)
}

func TestLayout_TitleFirst(t *testing.T) {
	pages, err := Layout(Document{Title: "Beyanname Analizi", Body: "ilk satir\n\nikinci paragraf"})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, []string{"Beyanname Analizi", "", "ilk satir", "", "ikinci paragraf"}, pages[0])
}

func TestLayout_WrapsLongParagraph(t *testing.T) {
	body := strings.Repeat("matrah ", 40)
	pages, err := Layout(Document{Body: body})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	for _, line := range pages[0] {
		assert.LessOrEqual(t, len([]rune(line)), maxLineRunes)
		assert.False(t, strings.HasSuffix(line, " "))
	}
	assert.Equal(t, strings.Fields(body), strings.Fields(strings.Join(pages[0], " ")))
}

func TestLayout_HardBreaksLongWord(t *testing.T) {
	word := strings.Repeat("x", maxLineRunes*2+5)
	pages, err := Layout(Document{Body: "a " + word + " b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", word[:maxLineRunes], word[maxLineRunes : 2*maxLineRunes], word[2*maxLineRunes:] + " b"}, pages[0])
}

func TestLayout_Paginates(t *testing.T) {
	lines := make([]string, LinesPerPage*2+3)
	for i := range lines {
		lines[i] = "satir"
	}
	pages, err := Layout(Document{Body: strings.Join(lines, "\n")})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Len(t, pages[0], LinesPerPage)
	assert.Len(t, pages[1], LinesPerPage)
	assert.Len(t, pages[2], 3)
}

func TestLayout_Deterministic(t *testing.T) {
	doc := Document{Title: "T", Body: strings.Repeat("kdv iadesi hesaplandi. ", 200)}
	a, err := Layout(doc)
	require.NoError(t, err)
	b, err := Layout(doc)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildLayout_SkipsBlankLinesAndSizesTitle(t *testing.T) {
	doc := buildLayout([][]string{{"Baslik", "", "govde"}})
	require.Len(t, doc.Pages, 1)
	texts := doc.Pages["1"].Content.Text
	require.Len(t, texts, 2)
	assert.Equal(t, titleSize, texts[0].Font.Size)
	assert.Equal(t, fontSize, texts[1].Font.Size)
	assert.Greater(t, texts[0].Pos[1], texts[1].Pos[1])
}

func TestRender_ProducesPDF(t *testing.T) {
	r := NewRenderer()
	lines := make([]string, LinesPerPage+1)
	for i := range lines {
		lines[i] = "Gelir unsurlari incelendi."
	}

	out, err := r.Render(Document{Title: "Beyanname Analizi", Body: strings.Join(lines, "\n")})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	n, err := api.PageCount(bytes.NewReader(out), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRender_UnsupportedText(t *testing.T) {
	_, err := NewRenderer().Render(Document{Body: "metin ☃"})
	assert.ErrorIs(t, err, ErrRender)
}
