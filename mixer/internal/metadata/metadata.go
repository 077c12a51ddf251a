// Package metadata parses the upstream emoji kitchen document:
//
//	{"data": {<key>: {"emoji": "<base>",
//	                  "combinations": {<group>: [{"leftEmoji": ..., "rightEmoji": ..., "gStaticUrl": ...}]}}}}
//
// The document is walked token by token so records come out in document
// order. Malformed records are skipped and counted; only a broken document
// (bad JSON, bad UTF-8, no data object, nothing usable) is an error.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidUTF8 means the body is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("metadata: body is not valid UTF-8")
	// ErrNoData means the top level has no "data" object.
	ErrNoData = errors.New("metadata: missing data object")
	// ErrNoRecords means the document holds no usable record.
	ErrNoRecords = errors.New("metadata: no usable records")
)

// Record is one usable combination.
type Record struct {
	BaseEmoji  string
	LeftEmoji  string
	RightEmoji string
	ImageURL   string
}

// Document is the parse result.
type Document struct {
	Records []Record
	Skipped int
	Entries int // entries under "data"
}

type rawRecord struct {
	LeftEmoji  *string `json:"leftEmoji"`
	RightEmoji *string `json:"rightEmoji"`
	GStaticURL *string `json:"gStaticUrl"`
}

// Parse decodes data. Unknown keys are ignored at every level.
func Parse(data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("metadata: document is not an object")
	}

	doc := &Document{}
	found := false
	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return nil, err
		}
		if key != "data" {
			if err := skipValue(dec); err != nil {
				return nil, err
			}
			continue
		}
		found = true
		if err := parseData(dec, doc); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	if !found {
		return nil, ErrNoData
	}
	if len(doc.Records) == 0 {
		return nil, fmt.Errorf("%w (%d skipped)", ErrNoRecords, doc.Skipped)
	}
	return doc, nil
}

func parseData(dec *json.Decoder, doc *Document) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if tok != json.Delim('{') {
		return ErrNoData
	}
	for dec.More() {
		key, err := nextKey(dec)
		if err != nil {
			return err
		}
		doc.Entries++
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("metadata: entry %q: %w", key, err)
		}
		if tok != json.Delim('{') {
			doc.Skipped++
			if err := skipOpened(dec, tok); err != nil {
				return err
			}
			continue
		}
		if err := parseEntry(dec, key, doc); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// parseEntry reads one entry whose '{' is already consumed. The base emoji
// may follow "combinations", so it is applied once the entry closes.
func parseEntry(dec *json.Decoder, key string, doc *Document) error {
	var (
		base  string
		start = len(doc.Records)
	)
	for dec.More() {
		field, err := nextKey(dec)
		if err != nil {
			return err
		}
		switch field {
		case "emoji":
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("metadata: entry %q: %w", key, err)
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				base = strings.TrimSpace(s)
			}
		case "combinations":
			if err := parseCombinations(dec, key, doc); err != nil {
				return err
			}
		default:
			if err := skipValue(dec); err != nil {
				return err
			}
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("metadata: entry %q: %w", key, err)
	}

	if base == "" {
		base = key
	}
	for i := start; i < len(doc.Records); i++ {
		doc.Records[i].BaseEmoji = base
	}
	return nil
}

func parseCombinations(dec *json.Decoder, key string, doc *Document) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("metadata: entry %q: %w", key, err)
	}
	if tok != json.Delim('{') {
		doc.Skipped++
		return skipOpened(dec, tok)
	}
	for dec.More() {
		if _, err := nextKey(dec); err != nil {
			return err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("metadata: entry %q: %w", key, err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '[' {
			doc.Skipped++
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			doc.Skipped++
			continue
		}
		for _, item := range items {
			if r, ok := toRecord(item); ok {
				doc.Records = append(doc.Records, r)
			} else {
				doc.Skipped++
			}
		}
	}
	_, err = dec.Token()
	return err
}

func toRecord(item json.RawMessage) (Record, bool) {
	item = bytes.TrimSpace(item)
	if len(item) == 0 || item[0] != '{' {
		return Record{}, false
	}
	var rr rawRecord
	if err := json.Unmarshal(item, &rr); err != nil {
		return Record{}, false
	}
	left, ok1 := nonEmpty(rr.LeftEmoji)
	right, ok2 := nonEmpty(rr.RightEmoji)
	url, ok3 := nonEmpty(rr.GStaticURL)
	if !ok1 || !ok2 || !ok3 {
		return Record{}, false
	}
	return Record{LeftEmoji: left, RightEmoji: right, ImageURL: url}, true
}

func nonEmpty(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	s := strings.TrimSpace(*p)
	return s, s != ""
}

func nextKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("metadata: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("metadata: expected object key, got %v", tok)
	}
	return key, nil
}

func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	return nil
}

// skipOpened discards the rest of a value whose first token is tok.
func skipOpened(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		t, err := dec.Token()
		if err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		if d, ok := t.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
