package chunk_test

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/beyanname/pkg/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCost(t *testing.T) {
	assert.Equal(t, 0.0, chunk.Cost(""))
	assert.Equal(t, 0.25, chunk.Cost("a"))
	assert.Equal(t, 1.0, chunk.Cost("abcd"))
	assert.Equal(t, 2.5, chunk.Cost("abcdefghij"))
}

func TestCost_CountsBytesNotRunes(t *testing.T) {
	// "ğ" is two bytes in UTF-8.
	assert.Equal(t, 0.5, chunk.Cost("ğ"))
}

func TestSplit_FitsReturnsInputUnchanged(t *testing.T) {
	payload := "  gelir   vergisi\nbeyannamesi 2024  "

	parts := chunk.Split(payload, 100)
	require.Len(t, parts, 1)
	assert.Equal(t, 0, parts[0].Index)
	assert.Equal(t, payload, parts[0].Text)
}

func TestSplit_EmptyPayload(t *testing.T) {
	parts := chunk.Split("", 10)
	require.Len(t, parts, 1)
	assert.Equal(t, "", parts[0].Text)
}

func TestSplit_GreedyPacking(t *testing.T) {
	// each token costs 1.0 (4 bytes); budget 2 packs two tokens per part
	payload := "aaaa bbbb cccc dddd eeee"

	parts := chunk.Split(payload, 2)
	require.Len(t, parts, 3)
	assert.Equal(t, "aaaa bbbb", parts[0].Text)
	assert.Equal(t, "cccc dddd", parts[1].Text)
	assert.Equal(t, "eeee", parts[2].Text)
	for i, p := range parts {
		assert.Equal(t, i, p.Index)
		assert.LessOrEqual(t, p.Cost, 2.0)
	}
}

func TestSplit_OversizedTokenEmittedAlone(t *testing.T) {
	big := strings.Repeat("x", 40) // cost 10
	payload := "aaaa " + big + " bbbb"

	parts := chunk.Split(payload, 2)
	require.Len(t, parts, 3)
	assert.Equal(t, "aaaa", parts[0].Text)
	assert.Equal(t, big, parts[1].Text)
	assert.Equal(t, 10.0, parts[1].Cost)
	assert.Equal(t, "bbbb", parts[2].Text)
}

func TestSplit_SingleOversizedToken(t *testing.T) {
	big := strings.Repeat("y", 100)

	parts := chunk.Split(big, 5)
	require.Len(t, parts, 1)
	assert.Equal(t, big, parts[0].Text)
}

func TestSplit_PreservesTokenOrder(t *testing.T) {
	var words []string
	for i := 0; i < 500; i++ {
		words = append(words, strings.Repeat(string(rune('a'+i%26)), 1+i%13))
	}
	payload := strings.Join(words, " ")

	parts := chunk.Split(payload, 25)
	require.Greater(t, len(parts), 1)
	assert.Equal(t, payload, chunk.Join(parts))
}

func TestSplit_NormalizesWhitespaceWhenSplitting(t *testing.T) {
	payload := "aaaa\n\nbbbb\tcccc   dddd"

	parts := chunk.Split(payload, 2)
	assert.Equal(t, "aaaa bbbb cccc dddd", chunk.Join(parts))
}

func TestSplit_Deterministic(t *testing.T) {
	payload := strings.Repeat("vergi matrahı indirim istisna ", 200)

	first := chunk.Split(payload, 30)
	second := chunk.Split(payload, 30)
	assert.Equal(t, first, second)
}

func TestSplit_NonPositiveBudgetTreatedAsOne(t *testing.T) {
	parts := chunk.Split("aaaa bbbb", 0)
	require.Len(t, parts, 2)
	assert.Equal(t, "aaaa", parts[0].Text)
	assert.Equal(t, "bbbb", parts[1].Text)
}

func TestPayloadCost(t *testing.T) {
	assert.Equal(t, 2.0, chunk.PayloadCost("aaaa  bbbb\n"))
}
