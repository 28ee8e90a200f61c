package replay

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
)

// transcriptLine is one line of a JSONL call transcript.
type transcriptLine struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Speaker        string `json:"speaker"`
	Message        string `json:"message"`
}

// Transcript is a parsed call transcript file.
type Transcript struct {
	Path           string
	ConversationID string
	Turns          []conversation.Turn
}

// ParseTranscriptFile reads a JSONL transcript: one {speaker, message} object
// per line, blank lines ignored. The conversation id comes from the first
// line that carries one, else from the file name. Any malformed line fails
// the whole file; a partial transcript would skew every later prediction.
func ParseTranscriptFile(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	t := &Transcript{Path: path}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var line transcriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", lineNo, conversation.ErrMalformedConversation, err)
		}
		sp, err := conversation.ParseSpeaker(line.Speaker)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if t.ConversationID == "" && line.ConversationID != "" {
			t.ConversationID = line.ConversationID
		}
		t.Turns = append(t.Turns, conversation.Turn{Speaker: sp, Message: line.Message})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	if t.ConversationID == "" {
		t.ConversationID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return t, nil
}

// Fingerprint identifies the transcript's content regardless of file name,
// so the same call exported twice is only replayed once.
func (t *Transcript) Fingerprint() string {
	sum := sha256.Sum256([]byte(conversation.Transcript(t.Turns)))
	return hex.EncodeToString(sum[:])
}
