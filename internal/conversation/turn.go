// Package conversation holds the canonical turn representation and the
// normalizer that turns caller input into it.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedConversation is returned for input that cannot be turned into
// a valid ordered turn sequence.
var ErrMalformedConversation = errors.New("malformed conversation")

// Speaker is the role that produced a turn.
type Speaker string

const (
	Customer Speaker = "customer"
	SalesRep Speaker = "sales_rep"
)

var speakerAliases = map[string]Speaker{
	"customer":    Customer,
	"user":        Customer,
	"prospect":    Customer,
	"client":      Customer,
	"sales_rep":   SalesRep,
	"sales-rep":   SalesRep,
	"sales rep":   SalesRep,
	"salesrep":    SalesRep,
	"sales":       SalesRep,
	"rep":         SalesRep,
	"salesperson": SalesRep,
	"agent":       SalesRep,
	"assistant":   SalesRep,
}

// ParseSpeaker resolves a speaker label, accepting common aliases.
func ParseSpeaker(s string) (Speaker, error) {
	sp, ok := speakerAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown speaker %q", ErrMalformedConversation, s)
	}
	return sp, nil
}

// Valid reports whether s is one of the two canonical speakers.
func (s Speaker) Valid() bool {
	return s == Customer || s == SalesRep
}

// Turn is one message in a conversation.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Message string  `json:"message"`
}

// IsCustomer reports whether the turn was spoken by the customer.
func (t Turn) IsCustomer() bool {
	return t.Speaker == Customer
}

// CountBySpeaker returns the number of customer and sales-rep turns.
func CountBySpeaker(turns []Turn) (customer, salesRep int) {
	for _, t := range turns {
		if t.IsCustomer() {
			customer++
		} else {
			salesRep++
		}
	}
	return customer, salesRep
}

// HasPrefix reports whether prefix is an exact leading subsequence of turns.
func HasPrefix(turns, prefix []Turn) bool {
	if len(prefix) > len(turns) {
		return false
	}
	for i := range prefix {
		if turns[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Transcript renders turns as "speaker: message" lines.
func Transcript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

// record is the wire shape of a speaker-tagged turn. Pointers let the
// decoder tell a missing field from an empty one.
type record struct {
	Speaker *string `json:"speaker"`
	Message *string `json:"message"`
}

func (r record) toTurn() (Turn, error) {
	if r.Speaker == nil {
		return Turn{}, fmt.Errorf("%w: missing speaker", ErrMalformedConversation)
	}
	if r.Message == nil {
		return Turn{}, fmt.Errorf("%w: missing message", ErrMalformedConversation)
	}
	sp, err := ParseSpeaker(*r.Speaker)
	if err != nil {
		return Turn{}, err
	}
	return Turn{Speaker: sp, Message: *r.Message}, nil
}

// UnmarshalJSON accepts a record with speaker aliases and rejects records
// missing either field.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedConversation, err)
	}
	out, err := r.toTurn()
	if err != nil {
		return err
	}
	*t = out
	return nil
}
