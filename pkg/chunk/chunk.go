// Package chunk splits an analysis payload into parts that fit a model's context budget.
//
// Cost is estimated per whitespace-delimited token as len(token)/4, which
// approximates the four-bytes-per-token rule of thumb for model tokenizers.
// Splitting never breaks a token: a token that alone exceeds the budget is
// emitted as its own oversized part.
package chunk

import "strings"

// Separator joins tokens inside a part.
const Separator = " "

// Part is one contiguous slice of a payload, identified by its position.
type Part struct {
	Index int
	Text  string
	Cost  float64
}

// Cost estimates the token cost of a single token.
func Cost(token string) float64 {
	return float64(len(token)) / 4
}

// PayloadCost estimates the token cost of a whole payload.
func PayloadCost(payload string) float64 {
	var total float64
	for _, tok := range strings.Fields(payload) {
		total += Cost(tok)
	}
	return total
}

// Split divides payload into parts whose cost stays within budget.
// A payload that already fits comes back as a single part holding the input
// unchanged. The result is never empty and depends only on its arguments.
func Split(payload string, budget int) []Part {
	if budget < 1 {
		budget = 1
	}
	limit := float64(budget)

	tokens := strings.Fields(payload)
	total := 0.0
	for _, tok := range tokens {
		total += Cost(tok)
	}
	if total <= limit {
		return []Part{{Index: 0, Text: payload, Cost: total}}
	}

	var (
		parts   []Part
		current []string
		cost    float64
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		parts = append(parts, Part{
			Index: len(parts),
			Text:  strings.Join(current, Separator),
			Cost:  cost,
		})
		current = nil
		cost = 0
	}

	for _, tok := range tokens {
		c := Cost(tok)
		if c > limit {
			flush()
			current = []string{tok}
			cost = c
			flush()
			continue
		}
		if cost+c > limit {
			flush()
		}
		current = append(current, tok)
		cost += c
	}
	flush()

	return parts
}

// Join reassembles the token stream of parts in index order.
func Join(parts []Part) string {
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
	}
	return strings.Join(texts, Separator)
}
