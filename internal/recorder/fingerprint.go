package recorder

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var queryNamespace = uuid.MustParse("3f0c6c52-7f3e-4d55-9a3b-2d2f2f6e9b41")

var (
	stringLiteral  = regexp.MustCompile(`'(?:[^']|'')*'`)
	positionalArg  = regexp.MustCompile(`\$\d+`)
	numericLiteral = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	whitespace     = regexp.MustCompile(`\s+`)
	placeholderIn  = regexp.MustCompile(`\(\s*\?(?:\s*,\s*\?)*\s*\)`)
)

// NormalizeSQL strips literal values from a statement so that executions
// differing only in their arguments share one fingerprint.
func NormalizeSQL(sql string) string {
	s := stringLiteral.ReplaceAllString(sql, "?")
	s = positionalArg.ReplaceAllString(s, "?")
	s = numericLiteral.ReplaceAllString(s, "?")
	s = whitespace.ReplaceAllString(s, " ")
	s = placeholderIn.ReplaceAllString(s, "(?)")
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, ";"))
}

// Fingerprint returns the sha1 hex digest of an already normalized statement.
func Fingerprint(normalized string) string {
	sum := sha1.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// QueryID derives the stable id of a normalized statement. Every process
// computes the same id for the same statement.
func QueryID(normalized string) string {
	return uuid.NewSHA1(queryNamespace, []byte(normalized)).String()
}
