package at

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also
// recognizes the SMS input prompt ("> ").
//
// Important: This splitter assumes "No Echo" mode (ATE0). If echo is enabled,
// it would need modification to handle command echoes that precede the actual
// response.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match SMS Prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg),
		strings.HasPrefix(line, UrcMessageReport),
		strings.HasPrefix(line, UrcCallBegin),
		strings.HasPrefix(line, UrcCallEnd),
		strings.HasPrefix(line, UrcCallIndicator),
		line == UrcRing:
		return TypeURC
	default:
		return TypeData
	}
}

// CMSErrorCode extracts the numeric code from a "+CMS ERROR: <n>" line.
// The second return value reports whether the line carried a parsable code.
func CMSErrorCode(line string) (int, bool) {
	if !strings.HasPrefix(line, CmsError) {
		return 0, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, CmsError))
	// Some firmwares append text after the code ("+CMS ERROR: 500 unknown").
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		rest = rest[:i]
	}
	code, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return code, true
}

// ParseNewMessage parses a `+CMTI: "<mem>",<index>` URC into the storage
// memory name and message index. ok is false for anything malformed.
func ParseNewMessage(line string) (memory string, index int, ok bool) {
	if !strings.HasPrefix(line, UrcNewMsg) {
		return "", 0, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, UrcNewMsg))
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	memory = strings.Trim(strings.TrimSpace(parts[0]), `"`)
	index, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || memory == "" {
		return "", 0, false
	}
	return memory, index, true
}
