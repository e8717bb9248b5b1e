package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter selects entries for replay. Zero fields match everything.
type ReplayFilter struct {
	CallID  string
	Account string
	From    time.Time
	To      time.Time
}

// ReplaySummary counts outcomes across the replayed entries.
type ReplaySummary struct {
	Total          int    `json:"total"`
	Forwarded      int    `json:"forwarded"`
	Rejected       int    `json:"rejected"`
	Held           int    `json:"held"`
	Failed         int    `json:"failed"`
	Approved       int    `json:"approved"`
	Rewards        int    `json:"rewards"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds the matched entries and their summary.
type ReplayResult struct {
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the log and returns the entries matching filter.
// Malformed lines are skipped.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		result.Summary.add(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f ReplayFilter) match(e Entry) bool {
	if f.CallID != "" && e.CallID != f.CallID {
		return false
	}
	if f.Account != "" && e.Account != f.Account {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func (s *ReplaySummary) add(e Entry) {
	s.Total++
	switch e.Kind {
	case KindReward:
		s.Rewards++
	case KindApprove:
		s.Approved++
	}
	switch e.Outcome {
	case "completed":
		s.Forwarded++
	case "rejected":
		s.Rejected++
	case "held":
		s.Held++
	case "failed":
		s.Failed++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
