//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package textstat provides lexical statistics for heuristic scoring.
package textstat

import (
	"regexp"
	"strings"
)

var (
	// nonAlphaNumRE matches one or more non-alphanumeric characters for normalization.
	nonAlphaNumRE = regexp.MustCompile(`[^a-z0-9]+`)
	// spacesRE matches one or more whitespace characters for token splitting.
	spacesRE = regexp.MustCompile(`\s+`)
)

// Tokenize lowercases the text, normalizes punctuation to spaces and splits
// on whitespace. Empty tokens are dropped.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	text = nonAlphaNumRE.ReplaceAllString(text, " ")
	parts := spacesRE.Split(strings.TrimSpace(text), -1)
	tokens := make([]string, 0, len(parts))
	for _, token := range parts {
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// TokenSet returns the set of distinct tokens in text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// OverlapRatio returns the fraction of distinct tokens in a that also occur
// in b. Returns 0 when a has no tokens.
func OverlapRatio(a, b string) float64 {
	aSet := TokenSet(a)
	if len(aSet) == 0 {
		return 0
	}
	bSet := TokenSet(b)
	matched := 0
	for token := range aSet {
		if _, ok := bSet[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(aSet))
}

// SupportRatio returns the fraction of answer token occurrences supported by
// the source text. Unlike OverlapRatio it weights repeated tokens.
func SupportRatio(answer, source string) float64 {
	tokens := Tokenize(answer)
	if len(tokens) == 0 {
		return 0
	}
	sourceSet := TokenSet(source)
	supported := 0
	for _, token := range tokens {
		if _, ok := sourceSet[token]; ok {
			supported++
		}
	}
	return float64(supported) / float64(len(tokens))
}

// RepetitionRatio returns 1 - distinct/total over the text tokens, i.e. the
// share of repeated token occurrences. Returns 0 for empty text.
func RepetitionRatio(text string) float64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	distinct := len(TokenSet(text))
	return 1 - float64(distinct)/float64(len(tokens))
}

// CompressionRatio returns the token-length ratio of summary to source.
// Returns 1 when the source is empty.
func CompressionRatio(summary, source string) float64 {
	sourceTokens := Tokenize(source)
	if len(sourceTokens) == 0 {
		return 1
	}
	return float64(len(Tokenize(summary))) / float64(len(sourceTokens))
}

// KeywordCoverage returns the fraction of keywords present in the text.
// Keywords are matched on normalized token boundaries. Returns 0 when no
// keywords are given.
func KeywordCoverage(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	set := TokenSet(text)
	found := 0
	for _, keyword := range keywords {
		tokens := Tokenize(keyword)
		if len(tokens) == 0 {
			continue
		}
		all := true
		for _, token := range tokens {
			if _, ok := set[token]; !ok {
				all = false
				break
			}
		}
		if all {
			found++
		}
	}
	return float64(found) / float64(len(keywords))
}

// NormalizeText collapses whitespace and lowercases for exact-match style
// comparisons.
func NormalizeText(text string) string {
	return strings.Join(Tokenize(text), " ")
}
