// Package camt holds the statement parser contract and the built-in
// CAMT.054 implementation.
package camt

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/bankfeed/bankfeed/internal/ledger"
)

// ErrInvalidFormat is returned when a file does not look like a statement
// in the parser's format at all.
var ErrInvalidFormat = errors.New("not a recognized statement format")

// Parser converts a statement file into ordered transactions.
type Parser interface {
	Parse(r io.Reader) ([]ledger.Transaction, error)
	Format() string
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&CAMT054Parser{})
	return r
}

// camt.054 marker strings. A debit/credit notification carries the
// BkToCstmrDbtCdtNtfctn element; older payment advices use CstmrPmtAdvce.
var camt054Markers = []string{
	"BkToCstmrDbtCdtNtfctn",
	"camt.054",
	"CstmrPmtAdvce",
}

// SniffCAMT054 reports whether data superficially looks like a CAMT.054
// notification. Structural validation is left to the parser.
func SniffCAMT054(data []byte) bool {
	for _, m := range camt054Markers {
		if bytes.Contains(data, []byte(m)) {
			return true
		}
	}
	return false
}
