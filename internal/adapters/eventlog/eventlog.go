// Package eventlog reads and writes the normalized event stream as JSON
// lines, one model.Event per line.
package eventlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
)

const maxLineBytes = 4 * 1024 * 1024

// Sentinel kinds for event log errors.
var (
	ErrMalformedEvent = errors.New("malformed event")
)

// Load reads a JSONL file into a history.MemorySource.
func Load(ctx context.Context, path string) (*history.MemorySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	events, err := Read(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return history.NewMemorySource(events...), nil
}

// Read decodes every event in r. Blank lines and lines starting with '#'
// are skipped; any other undecodable line fails the read.
func Read(ctx context.Context, r io.Reader) ([]model.Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var events []model.Event
	line := 0
	for sc.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var e model.Event
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("%w at line %d: %v", ErrMalformedEvent, line, err)
		}
		if err := validate(&e); err != nil {
			return nil, fmt.Errorf("%w at line %d: %v", ErrMalformedEvent, line, err)
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("line-%d", line)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// Write encodes events as JSON lines.
func Write(w io.Writer, events []model.Event) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode event %s: %w", events[i].ID, err)
		}
	}
	return bw.Flush()
}

func validate(e *model.Event) error {
	switch {
	case e.Repo == "":
		return errors.New("missing repo")
	case e.Type == "":
		return errors.New("missing type")
	case e.SubjectID == "":
		return errors.New("missing subject_id")
	case e.OccurredAt.IsZero():
		return errors.New("missing occurred_at")
	}
	if _, err := model.ParseEntityType(string(e.SubjectType)); err != nil {
		return err
	}
	return nil
}
