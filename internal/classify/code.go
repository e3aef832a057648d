package classify

import (
	"regexp"
	"strings"
)

// codeThreshold is the minimum heuristic score for text to count as code.
const codeThreshold = 3

type langRule struct {
	lang    string
	pattern *regexp.Regexp
	weight  int
}

var langRules = []langRule{
	{"go", regexp.MustCompile(`(?m)^\s*(package \w+|func (\(\w+ \*?\w+\) )?\w+\(|import \(|\w+ := )`), 3},
	{"python", regexp.MustCompile(`(?m)^\s*(def \w+\(.*\):|class \w+(\(.*\))?:|from [\w.]+ import |import \w+$|if __name__ == )`), 3},
	{"javascript", regexp.MustCompile(`(?m)(^\s*(const|let|var) \w+ = |=> \{|function \w*\(|console\.log\(|module\.exports|require\(['"])`), 3},
	{"rust", regexp.MustCompile(`(?m)^\s*(fn \w+\(|let mut |impl \w+|use \w+::|pub (fn|struct) )`), 3},
	{"java", regexp.MustCompile(`(?m)^\s*(public|private|protected) (static )?(class|void|\w+) \w+`), 3},
	{"c", regexp.MustCompile(`(?m)^\s*(#include <|#define |int main\()`), 3},
	{"sql", regexp.MustCompile(`(?im)^\s*(select .+ from |insert into |update \w+ set |create (table|index) )`), 3},
	{"shell", regexp.MustCompile(`(?m)^(#!/bin/(ba|z)?sh|\s*(export \w+=|if \[ ))`), 3},
	{"html", regexp.MustCompile(`(?i)<(!doctype html|html|div|span|script|body)[\s>]`), 3},
}

var (
	bracesRe    = regexp.MustCompile(`[{};]\s*$`)
	operatorsRe = regexp.MustCompile(`(==|!=|&&|\|\||->|::|<=|>=)`)
	indentRe    = regexp.MustCompile(`^(\t| {2,})\S`)
)

// DetectCode scores text against language rules and generic code shape.
// It returns the best language guess ("" if only generic signals matched).
func DetectCode(text string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(strings.TrimSpace(text)) < 8 {
		return "", false
	}

	best, bestScore := "", 0
	for _, r := range langRules {
		if n := len(r.pattern.FindAllStringIndex(text, 4)); n > 0 {
			score := r.weight * n
			if score > bestScore {
				best, bestScore = r.lang, score
			}
		}
	}

	generic := 0
	for _, l := range lines {
		if bracesRe.MatchString(l) {
			generic++
		}
		if indentRe.MatchString(l) {
			generic++
		}
		if operatorsRe.MatchString(l) {
			generic++
		}
	}
	// Prose has long lines with few symbols; dampen generic signals for single lines.
	if len(lines) == 1 {
		generic /= 2
	}

	score := bestScore + generic
	if score < codeThreshold {
		return "", false
	}
	return best, true
}
