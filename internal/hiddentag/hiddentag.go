// Package hiddentag appends and recovers an invisible customer key trailer
// written with zero-width code points.
package hiddentag

import (
	"strconv"
	"strings"
)

const (
	zero      = '\u200B'
	one       = '\u200C'
	separator = '\u2060'
	marker    = '\u200D'
)

// Encode appends the key to text as a zero-width trailer. Each character of
// the key is written as its binary code point, characters are separated by
// U+2060 and the trailer is delimited by U+200D on both sides.
func Encode(text, key string) string {
	if text == "" || key == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + len(key)*24)
	b.WriteString(text)
	b.WriteByte(' ')
	b.WriteRune(marker)
	for i, r := range key {
		if i > 0 {
			b.WriteRune(separator)
		}
		for _, bit := range strconv.FormatInt(int64(r), 2) {
			if bit == '0' {
				b.WriteRune(zero)
			} else {
				b.WriteRune(one)
			}
		}
	}
	b.WriteRune(marker)
	return b.String()
}

// Decode returns the key carried by the last trailer in text.
func Decode(text string) (string, bool) {
	start, end, ok := locate(text)
	if !ok {
		return "", false
	}
	body := text[start:end]
	if body == "" {
		return "", false
	}
	var key strings.Builder
	for _, chunk := range strings.Split(body, string(separator)) {
		var bits strings.Builder
		for _, r := range chunk {
			switch r {
			case zero:
				bits.WriteByte('0')
			case one:
				bits.WriteByte('1')
			default:
				return "", false
			}
		}
		if bits.Len() == 0 {
			return "", false
		}
		cp, err := strconv.ParseInt(bits.String(), 2, 32)
		if err != nil {
			return "", false
		}
		key.WriteRune(rune(cp))
	}
	return key.String(), true
}

// Strip removes a trailing hidden key and the space that precedes it.
func Strip(text string) string {
	start, end, ok := locate(text)
	if !ok {
		return text
	}
	if _, decoded := Decode(text); !decoded {
		return text
	}
	head := text[:start-len(string(marker))]
	tail := text[end+len(string(marker)):]
	return strings.TrimSuffix(head, " ") + tail
}

// locate returns the byte range of the last marker-delimited trailer body.
func locate(text string) (int, int, bool) {
	m := string(marker)
	last := strings.LastIndex(text, m)
	if last <= 0 {
		return 0, 0, false
	}
	first := strings.LastIndex(text[:last], m)
	if first < 0 {
		return 0, 0, false
	}
	return first + len(m), last, true
}
