/*
Package archive exports the edit journal of a finished session to S3-compatible storage.

A journal is uploaded as JSON lines, one collaboration message per line, under
sessions/<session id>/<unix seconds>.jsonl. The REST API hands out presigned download URLs for
the latest journal of a session.
*/
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"collabsync/internal/app/protocol"
	"collabsync/internal/pkg/errs"
)

// ContentType of uploaded journals.
const ContentType = "application/x-ndjson"

// Config holds the settings of the S3-compatible bucket.
type Config struct {
	BucketName      string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Archiver stores and retrieves session journals.
type Archiver interface {
	// Archive uploads entries and returns the object key. An empty journal is not uploaded.
	Archive(ctx context.Context, sessionID string, entries []protocol.Message) (string, error)

	// Latest returns the key of the newest journal of sessionID.
	Latest(ctx context.Context, sessionID string) (string, error)

	// PresignDownload returns a time-limited download URL for key.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Prefix returns the key prefix of every journal of sessionID.
func Prefix(sessionID string) string {
	return fmt.Sprintf("sessions/%s/", sessionID)
}

// Key returns the object key of a journal written at the given time.
func Key(sessionID string, at time.Time) string {
	return fmt.Sprintf("%s%d.jsonl", Prefix(sessionID), at.Unix())
}

// EncodeJournal renders entries as JSON lines.
func EncodeJournal(entries []protocol.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("archive: encode journal entry %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// Noop drops journals; it is used when no bucket is configured.
type Noop struct{}

var _ Archiver = Noop{}

func (Noop) Archive(context.Context, string, []protocol.Message) (string, error) {
	return "", nil
}

func (Noop) Latest(context.Context, string) (string, error) {
	return "", errs.NewError(errs.ErrArchiveUnavailable)
}

func (Noop) PresignDownload(context.Context, string, time.Duration) (string, error) {
	return "", errs.NewError(errs.ErrArchiveUnavailable)
}
