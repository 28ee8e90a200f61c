package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InputKind tells which shape a conversation arrived in.
type InputKind int

const (
	KindEmpty InputKind = iota
	KindStrings
	KindRecords
)

// Input is conversation input in either of its accepted shapes: plain
// strings alternating customer/sales_rep starting with the customer, or
// speaker-tagged records. It decodes from a JSON array of either.
type Input struct {
	Kind    InputKind
	Strings []string
	Records []Record
}

// Record is a speaker-tagged message as supplied by a caller. The speaker is
// resolved through ParseSpeaker.
type Record struct {
	Speaker string
	Message string
}

// StringsInput wraps plain alternating messages.
func StringsInput(msgs ...string) Input {
	if len(msgs) == 0 {
		return Input{Kind: KindEmpty}
	}
	return Input{Kind: KindStrings, Strings: msgs}
}

// RecordsInput wraps speaker-tagged records.
func RecordsInput(recs ...Record) Input {
	if len(recs) == 0 {
		return Input{Kind: KindEmpty}
	}
	return Input{Kind: KindRecords, Records: recs}
}

// Normalize turns input into the canonical turn sequence. An empty input
// yields an empty sequence; callers that need turns use RequireNonEmpty.
func Normalize(in Input) ([]Turn, error) {
	switch in.Kind {
	case KindEmpty:
		return []Turn{}, nil
	case KindStrings:
		return FromStrings(in.Strings), nil
	case KindRecords:
		return FromRecords(in.Records)
	default:
		return nil, fmt.Errorf("%w: unknown input kind %d", ErrMalformedConversation, in.Kind)
	}
}

// FromStrings assigns alternating speakers, customer first.
func FromStrings(msgs []string) []Turn {
	turns := make([]Turn, len(msgs))
	for i, m := range msgs {
		sp := Customer
		if i%2 == 1 {
			sp = SalesRep
		}
		turns[i] = Turn{Speaker: sp, Message: m}
	}
	return turns
}

// FromRecords validates and canonicalizes speaker-tagged records.
func FromRecords(recs []Record) ([]Turn, error) {
	turns := make([]Turn, len(recs))
	for i, r := range recs {
		if r.Speaker == "" {
			return nil, fmt.Errorf("turn %d: %w: missing speaker", i, ErrMalformedConversation)
		}
		sp, err := ParseSpeaker(r.Speaker)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
		turns[i] = Turn{Speaker: sp, Message: r.Message}
	}
	return turns, nil
}

// RequireNonEmpty fails when an operation needs at least one turn.
func RequireNonEmpty(turns []Turn) error {
	if len(turns) == 0 {
		return fmt.Errorf("%w: conversation is empty", ErrMalformedConversation)
	}
	return nil
}

// UnmarshalJSON decodes a JSON array of strings or of {speaker, message}
// objects. Arrays mixing both are rejected.
func (in *Input) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*in = Input{Kind: KindEmpty}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: conversation must be an array: %v", ErrMalformedConversation, err)
	}
	if len(raw) == 0 {
		*in = Input{Kind: KindEmpty}
		return nil
	}

	first := bytes.TrimSpace(raw[0])
	if len(first) > 0 && first[0] == '"' {
		msgs := make([]string, len(raw))
		for i, r := range raw {
			// json.Unmarshal accepts null into a string; a turn may not.
			if t := bytes.TrimSpace(r); len(t) == 0 || t[0] != '"' {
				return fmt.Errorf("turn %d: %w: expected string", i, ErrMalformedConversation)
			}
			if err := json.Unmarshal(r, &msgs[i]); err != nil {
				return fmt.Errorf("turn %d: %w: expected string", i, ErrMalformedConversation)
			}
		}
		*in = Input{Kind: KindStrings, Strings: msgs}
		return nil
	}

	recs := make([]Record, len(raw))
	for i, r := range raw {
		var rec record
		if err := json.Unmarshal(r, &rec); err != nil {
			return fmt.Errorf("turn %d: %w: expected object", i, ErrMalformedConversation)
		}
		t, err := rec.toTurn()
		if err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
		recs[i] = Record{Speaker: string(t.Speaker), Message: t.Message}
	}
	*in = Input{Kind: KindRecords, Records: recs}
	return nil
}

// MarshalJSON always emits the record form, which normalizes back to the
// same turns.
func (in Input) MarshalJSON() ([]byte, error) {
	turns, err := Normalize(in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(turns)
}
