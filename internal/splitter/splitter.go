// Package splitter cuts a generated response into the ordered parts that get
// delivered as separate chat messages.
//
// Supported modes:
//
//   - None:           Send the whole response as one message
//   - Simple:         Split on blank lines ("\n\n")
//   - SimpleImproved: Split on blank lines, then re-join fragments that are too short
//
// Markdown, Structured and MultiQuery are recognised names that have no
// implementation yet; New rejects them so a bad config fails at startup.
package splitter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Separator is the paragraph separator responses are split on.
const Separator = "\n\n"

// Mode defines the splitting strategy.
type Mode string

const (
	ModeNone           Mode = "none"
	ModeSimple         Mode = "simple"
	ModeSimpleImproved Mode = "simple_improved"
	ModeMarkdown       Mode = "markdown"    // split by markdown headers (not implemented)
	ModeStructured     Mode = "structured"  // model-assisted split (not implemented)
	ModeMultiQuery     Mode = "multi_query" // generate, then ask for a split (not implemented)
)

var (
	// ErrUnknownMode is returned for mode names this package does not know.
	ErrUnknownMode = errors.New("unknown splitter mode")
	// ErrUnimplementedMode is returned for recognised modes with no implementation.
	ErrUnimplementedMode = errors.New("splitter mode not implemented")
)

// Modes lists every recognised mode name, implemented or not.
var Modes = []Mode{ModeNone, ModeSimple, ModeSimpleImproved, ModeMarkdown, ModeStructured, ModeMultiQuery}

// ParseMode converts a config string into a Mode. An empty string means ModeNone.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeNone, nil
	}
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Implemented reports whether Split can run in this mode.
func (m Mode) Implemented() bool {
	switch m {
	case ModeNone, ModeSimple, ModeSimpleImproved:
		return true
	}
	return false
}

// Describe returns a short human description of the mode.
func (m Mode) Describe() string {
	switch m {
	case ModeNone:
		return "Send the whole response as one message"
	case ModeSimple:
		return "Split on blank lines"
	case ModeSimpleImproved:
		return "Split on blank lines, merge short fragments"
	case ModeMarkdown:
		return "Split on markdown headers"
	case ModeStructured:
		return "Ask the model for explicit parts"
	case ModeMultiQuery:
		return "Generate first, then query again to split"
	default:
		return fmt.Sprintf("Unknown mode: %s", string(m))
	}
}

// Splitter is a validated (mode, minimum length) pair.
type Splitter struct {
	mode   Mode
	minLen int
}

// New validates the mode and threshold up front so Split never has to fail.
func New(mode Mode, minPartLength int) (*Splitter, error) {
	if mode == "" {
		mode = ModeNone
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if !mode.Implemented() {
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedMode, mode)
	}
	if minPartLength < 0 {
		return nil, fmt.Errorf("minimum part length must be non-negative, got %d", minPartLength)
	}
	return &Splitter{mode: mode, minLen: minPartLength}, nil
}

// Mode returns the configured mode.
func (s *Splitter) Mode() Mode { return s.mode }

// MinPartLength returns the coalescing threshold used by ModeSimpleImproved.
func (s *Splitter) MinPartLength() int { return s.minLen }

// Split returns the ordered parts of text. Empty input yields no parts.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	switch s.mode {
	case ModeSimple:
		return splitSimple(text)
	case ModeSimpleImproved:
		return coalesce(splitSimple(text), s.minLen)
	default:
		return []string{text}
	}
}

// splitSimple splits on the separator and drops empty trailing segments.
func splitSimple(text string) []string {
	parts := strings.Split(text, Separator)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// coalesce greedily joins parts until the accumulator is longer than minLen.
// An accumulator of exactly minLen runes still absorbs the next part, so
// every emitted part except possibly the last is longer than minLen.
func coalesce(parts []string, minLen int) []string {
	var out []string
	var acc string
	for _, part := range parts {
		switch {
		case acc == "":
			acc = part
		case utf8.RuneCountInString(acc) <= minLen:
			acc += Separator + part
		default:
			out = append(out, acc)
			acc = part
		}
	}
	if acc != "" {
		out = append(out, acc)
	}
	return out
}

// Instruction returns the system prompt fragment that asks the model to lay
// out its answer so this mode can split it.
func Instruction(mode Mode) string {
	switch mode {
	case ModeSimple, ModeSimpleImproved:
		return "Use \\n\\n to separate parts of the response."
	case ModeMarkdown:
		return "Use markdown headers to separate parts of the response."
	case ModeStructured:
		return "We want to split the response to the user into multiple parts grouped by meaning " +
			"- and send them out one by one with a delay so that user has time to read each part."
	default:
		return ""
	}
}
