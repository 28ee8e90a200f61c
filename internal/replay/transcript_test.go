package replay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
)

func TestParseTranscriptFile_Basic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "call-42.jsonl")

	writeLines(t, path, []string{
		`{"conversation_id":"acme-demo","speaker":"sales_rep","message":"Thanks for joining the demo."}`,
		``,
		`{"speaker":"customer","message":"Happy to be here. What does pricing look like?"}`,
		`{"speaker":"rep","message":"Plans start at 49 per seat."}`,
	})

	tr, err := ParseTranscriptFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.ConversationID != "acme-demo" {
		t.Errorf("conversation id = %q, want acme-demo", tr.ConversationID)
	}
	if len(tr.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(tr.Turns))
	}
	if tr.Turns[0].Speaker != conversation.SalesRep {
		t.Errorf("turn[0] speaker = %q", tr.Turns[0].Speaker)
	}
	if tr.Turns[1].Speaker != conversation.Customer || tr.Turns[1].Message != "Happy to be here. What does pricing look like?" {
		t.Errorf("turn[1] = %+v", tr.Turns[1])
	}
	if tr.Turns[2].Speaker != conversation.SalesRep {
		t.Errorf("alias 'rep' should map to sales_rep, got %q", tr.Turns[2].Speaker)
	}
}

func TestParseTranscriptFile_IDFromFileName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "call-42.jsonl")
	writeLines(t, path, []string{`{"speaker":"customer","message":"hi"}`})

	tr, err := ParseTranscriptFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.ConversationID != "call-42" {
		t.Errorf("conversation id = %q, want call-42", tr.ConversationID)
	}
}

func TestParseTranscriptFile_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"bad json", []string{`{"speaker":"customer","message":"hi"}`, `not json`}},
		{"unknown speaker", []string{`{"speaker":"narrator","message":"Meanwhile..."}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.jsonl")
			writeLines(t, path, tt.lines)

			_, err := ParseTranscriptFile(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, conversation.ErrMalformedConversation) {
				t.Errorf("expected ErrMalformedConversation, got %v", err)
			}
		})
	}
}

func TestParseTranscriptFile_Missing(t *testing.T) {
	if _, err := ParseTranscriptFile(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTranscript_Fingerprint(t *testing.T) {
	turns := []conversation.Turn{
		{Speaker: conversation.Customer, Message: "hi"},
		{Speaker: conversation.SalesRep, Message: "hello"},
	}
	a := &Transcript{Path: "a.jsonl", Turns: turns}
	b := &Transcript{Path: "b.jsonl", Turns: turns}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("same turns under different names should share a fingerprint")
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a.Fingerprint()))
	}

	c := &Transcript{Turns: []conversation.Turn{{Speaker: conversation.Customer, Message: "hi"}}}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different turns should not share a fingerprint")
	}
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, line := range lines {
		f.WriteString(line + "\n")
	}
}
