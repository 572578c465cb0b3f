// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit writes an append-only log of lifecycle events: run
// status transitions and reaction writes. Records are CBOR-encoded and
// concatenated, so the file is a valid CBOR sequence readable without
// an index. The core never reads the log; it exists for operators.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sjkd23/runboard/run"
)

// Record kinds.
const (
	KindStatus   = "status"
	KindReaction = "reaction"
)

// Record is one audit log entry. Fields irrelevant to the record's
// kind are omitted from the encoding.
type Record struct {
	Kind string    `cbor:"kind"`
	At   time.Time `cbor:"at"`

	// Status transition fields.
	RunID string `cbor:"run_id,omitempty"`
	From  string `cbor:"from,omitempty"`
	To    string `cbor:"to,omitempty"`

	// Reaction fields.
	ParentID string `cbor:"parent_id,omitempty"`
	UserID   string `cbor:"user_id,omitempty"`
	Type     string `cbor:"type,omitempty"`
	Source   string `cbor:"source,omitempty"`
	Value    int64  `cbor:"value,omitempty"`
}

// Config holds the parameters for opening an audit log.
type Config struct {
	// Path is the log file path. Created if absent, appended otherwise.
	// Required.
	Path string

	// Logger receives operational messages. nil discards them.
	Logger *slog.Logger
}

// Log is an append-only CBOR audit log. Safe for concurrent use.
// Append failures are logged and swallowed: auditing never blocks or
// fails the operation being audited.
type Log struct {
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
}

// Open opens the audit log for appending.
func Open(cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", cfg.Path, err)
	}

	return &Log{
		logger:  logger,
		file:    file,
		encoder: cbor.NewEncoder(file),
	}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("audit: close: %w", err)
	}
	return nil
}

// StatusChanged records a run status transition. Implements
// run.AuditRecorder.
func (l *Log) StatusChanged(_ context.Context, runID string, from, to run.Status, at time.Time) {
	l.append(Record{
		Kind:  KindStatus,
		At:    at.UTC(),
		RunID: runID,
		From:  string(from),
		To:    string(to),
	})
}

// ReactionWritten records a reaction write with its resulting value.
func (l *Log) ReactionWritten(_ context.Context, parentID, userID, reactionType, source string, value int64, at time.Time) {
	l.append(Record{
		Kind:     KindReaction,
		At:       at.UTC(),
		ParentID: parentID,
		UserID:   userID,
		Type:     reactionType,
		Source:   source,
		Value:    value,
	})
}

func (l *Log) append(record Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.encoder.Encode(record); err != nil {
		l.logger.Error("audit append failed",
			"kind", record.Kind,
			"error", err,
		)
	}
}

// ReadAll decodes every record in an audit log file. Intended for
// operator tooling and tests.
func ReadAll(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	defer file.Close()

	decoder := cbor.NewDecoder(file)
	var records []Record
	for {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("audit: decoding %s: %w", path, err)
		}
		records = append(records, record)
	}
}
