// Package parser reads a session's append-only newline-delimited
// record file into an ordered sequence of typed messages. It is the
// one place in the pipeline that deals with the heterogeneous shapes
// dialog tools use for a message record; everything downstream only
// ever sees Message.
package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/recursive-vibe/smart-fork/internal/sferrors"
)

// Mode selects how malformed records are handled.
type Mode int

const (
	// ModeLenient skips and counts malformed records. Default.
	ModeLenient Mode = iota
	// ModeStrict fails fast on the first malformed record.
	ModeStrict
)

// Message is one dialog turn, produced by the parser and never
// mutated downstream.
type Message struct {
	Role      string
	Content   string
	Timestamp *time.Time
	Attrs     map[string]any
}

// FileMeta carries the source file's observed metadata.
type FileMeta struct {
	Path             string
	ModTime          time.Time
	CreateTime       time.Time
}

// Counters tracks parsing outcomes for a file.
type Counters struct {
	TotalMessages int
	ParseErrors   int
	SkippedLines  int
}

// Result is the parser's contract output.
type Result struct {
	SessionID string
	Messages  []Message
	File      FileMeta
	Counters  Counters
}

// rawRecord mirrors the self-describing on-disk shape before
// normalisation into Message.
type rawRecord struct {
	Role      string          `json:"role"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Text      json.RawMessage `json:"text"`
	Message   json.RawMessage `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Parse reads path in the given mode. The session id is derived from
// the file's basename without extension.
func Parse(path string, mode Mode) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sferrors.Input(sferrors.CodeParseNotFound, fmt.Sprintf("session file not found: %s", path), err)
		}
		return nil, sferrors.Input(sferrors.CodeParseNotFound, fmt.Sprintf("cannot stat session file: %s", path), err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, sferrors.Input(sferrors.CodeParseNotFound, fmt.Sprintf("cannot open session file: %s", path), err)
	}
	defer f.Close()

	result := &Result{
		SessionID: sessionIDFromPath(path),
		File: FileMeta{
			Path:    path,
			ModTime: info.ModTime(),
			// Portable os.FileInfo carries no creation time; the
			// modification time of the first observation is the
			// closest available proxy.
			CreateTime: info.ModTime(),
		},
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg, perr := parseLine(line)
		if perr != nil {
			if mode == ModeStrict {
				return nil, sferrors.Input(sferrors.CodeParseMalformed, fmt.Sprintf("malformed record at line %d: %v", lineNo, perr), perr).WithDetail("line", strconv.Itoa(lineNo))
			}
			result.Counters.ParseErrors++
			result.Counters.SkippedLines++
			continue
		}

		result.Messages = append(result.Messages, *msg)
		result.Counters.TotalMessages++
	}
	if err := scanner.Err(); err != nil {
		return nil, sferrors.Input(sferrors.CodeParseMalformed, fmt.Sprintf("error reading session file: %s", path), err)
	}

	return result, nil
}

func parseLine(line string) (*Message, error) {
	var raw rawRecord
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, err
	}

	role := raw.Role
	if role == "" {
		role = raw.Type
	}
	if role == "" {
		return nil, fmt.Errorf("role cannot be empty")
	}

	content, err := extractContent(raw)
	if err != nil {
		return nil, err
	}

	msg := &Message{Role: role, Content: content}
	msg.Timestamp = extractTimestamp(raw.Timestamp)
	msg.Attrs = extractAttrs(line)
	return msg, nil
}

// extractContent implements spec §4.1/§6.1's field-fallback and
// block-flattening rules: content, then text, then message; a string
// is used verbatim, a list of {type,text} blocks is concatenated with
// newline separators.
func extractContent(raw rawRecord) (string, error) {
	for _, field := range [][]byte{raw.Content, raw.Text, raw.Message} {
		if len(field) == 0 {
			continue
		}
		text, ok, err := decodeContentField(field)
		if err != nil {
			return "", err
		}
		if ok {
			return text, nil
		}
	}
	return "", fmt.Errorf("content must be a string")
}

func decodeContentField(field json.RawMessage) (string, bool, error) {
	var s string
	if err := json.Unmarshal(field, &s); err == nil {
		return s, true, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(field, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			parts = append(parts, b.Text)
		}
		return strings.Join(parts, "\n"), true, nil
	}

	return "", false, fmt.Errorf("content must be a string")
}

func extractTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		t := time.Unix(asInt, 0).UTC()
		return &t
	}
	var asStr string
	if err := json.Unmarshal(raw, &asStr); err == nil {
		if t, err := time.Parse(time.RFC3339, asStr); err == nil {
			return &t
		}
	}
	return nil
}

// extractAttrs preserves every field of the raw record not already
// modelled, as spec §6.1 requires ("extra fields are preserved into
// the message's opaque attribute bag").
func extractAttrs(line string) map[string]any {
	var generic map[string]any
	if err := json.Unmarshal([]byte(line), &generic); err != nil {
		return nil
	}
	for _, known := range []string{"role", "type", "content", "text", "message", "timestamp"} {
		delete(generic, known)
	}
	if len(generic) == 0 {
		return nil
	}
	return generic
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
