// Package mail implements the file-backed message log. A mailbox is just a
// directory: one JSON file per message, named so that lexical order is
// chronological order, plus one dotfile cursor per reader. The same layout
// serves the workspace-local mailbox and the team hub; callers pick the
// directory.
package mail

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beads-village/village/internal/atomicfile"
)

// scanWindow bounds how many directory entries one Recv inspects. Messages
// older than the window are invisible; archival is someone else's job.
const scanWindow = 50

// Message is the durable mail payload. Single-letter keys keep the wire
// token-cheap for LLM readers.
type Message struct {
	From       string `json:"f"`
	To         string `json:"t"`
	Subject    string `json:"s"`
	Body       string `json:"b"`
	TS         string `json:"ts"`
	Thread     string `json:"thread"`
	Importance string `json:"imp"`
	Issue      string `json:"issue"`
	WS         string `json:"ws"`
}

// Received pairs a message with the epoch encoded in its filename, which
// drives unread filtering and cursor advancement.
type Received struct {
	Message
	Epoch float64
}

// Send publishes one message into dir. The filename carries epoch seconds
// with microsecond precision plus a random suffix, so concurrent writers
// stay sortable and never collide.
func Send(dir string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := atomicfile.Publish(dir, filename(time.Now()), data); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func filename(now time.Time) string {
	us := now.UnixMicro()
	u := uuid.New()
	suffix := hex.EncodeToString(u[:])[:6]
	return fmt.Sprintf("%d.%06d_%s.json", us/1_000_000, us%1_000_000, suffix)
}

// Recv returns the messages in dir addressed to reader ("all" or the reader
// itself), oldest first, scanning at most the newest scanWindow files. With
// unreadOnly, files at or below the reader's cursor are dropped. After a
// non-empty read the cursor advances to the highest filename epoch returned,
// so re-reads with unreadOnly are idempotent and nothing published
// concurrently is skipped past.
//
// A missing directory and malformed files read as empty: the mailbox never
// fails a reader because of another writer's state.
func Recv(dir, reader string, unreadOnly bool) ([]Received, error) {
	cursor := readCursor(dir, reader)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return []Received{}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) > scanWindow {
		names = names[len(names)-scanWindow:]
	}

	msgs := []Received{}
	maxEpoch := cursor
	for _, name := range names {
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		epoch, epochOK := filenameEpoch(name)

		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // G304 - names come from the mailbox scan
		if err != nil {
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.To != "all" && m.To != reader {
			continue
		}
		if unreadOnly && epochOK && epoch <= cursor {
			continue
		}

		msgs = append(msgs, Received{Message: m, Epoch: epoch})
		if epochOK && epoch > maxEpoch {
			maxEpoch = epoch
		}
	}

	if len(msgs) > 0 {
		if err := writeCursor(dir, reader, maxEpoch); err != nil {
			return msgs, fmt.Errorf("advance cursor: %w", err)
		}
	}
	return msgs, nil
}

// filenameEpoch extracts the epoch-seconds prefix of a message filename.
// Unparseable names report false; such messages are still delivered but do
// not participate in unread filtering or cursor advancement.
func filenameEpoch(name string) (float64, bool) {
	base := strings.TrimSuffix(name, ".json")
	prefix, _, _ := strings.Cut(base, "_")
	epoch, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, false
	}
	return epoch, true
}

func cursorFile(dir, reader string) string {
	return filepath.Join(dir, ".read_"+reader)
}

func readCursor(dir, reader string) float64 {
	data, err := os.ReadFile(cursorFile(dir, reader)) //nolint:gosec // G304 - layout-derived path
	if err != nil {
		return 0
	}
	cursor, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0
	}
	return cursor
}

func writeCursor(dir, reader string, epoch float64) error {
	return atomicfile.Publish(dir, ".read_"+reader, []byte(strconv.FormatFloat(epoch, 'f', 6, 64)))
}
