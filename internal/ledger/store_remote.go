package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// SnapshotClient is what the remote store needs from the cloud client.
// Defined at the consumer so the engine never depends on the transport.
type SnapshotClient interface {
	// GetSnapshot returns the raw snapshot JSON, or (nil, nil) when the
	// user has none yet.
	GetSnapshot(ctx context.Context, userID string) ([]byte, error)
	PutSnapshot(ctx context.Context, userID string, body []byte) error
}

// OpClient applies a single queued mutation remotely.
type OpClient interface {
	Apply(ctx context.Context, userID, op, collection, recordID string, payload []byte) error
}

// RemoteStore adapts the cloud client to the RecordStore contract for the
// shared remote replica.
type RemoteStore struct {
	client SnapshotClient
	logger *slog.Logger
}

// NewRemoteStore wraps a snapshot client as a RecordStore.
func NewRemoteStore(client SnapshotClient, logger *slog.Logger) *RemoteStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &RemoteStore{client: client, logger: logger}
}

// Load fetches and decodes the remote snapshot. A missing or corrupt
// payload degrades to an empty, well-typed snapshot — callers never see a
// parse failure. An unreachable remote is a real error and fails the
// cycle.
func (s *RemoteStore) Load(ctx context.Context, userID string) ([]Record, error) {
	body, err := s.client.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: fetching remote snapshot: %w", err)
	}

	if len(body) == 0 {
		return []Record{}, nil
	}

	records, err := UnmarshalRecords(body)
	if err != nil {
		s.logger.Warn("corrupt remote snapshot, substituting empty replica",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)

		return []Record{}, nil
	}

	return records, nil
}

// Save replaces the remote snapshot.
func (s *RemoteStore) Save(ctx context.Context, userID string, records []Record) error {
	body, err := MarshalRecords(records)
	if err != nil {
		return err
	}

	if err := s.client.PutSnapshot(ctx, userID, body); err != nil {
		return fmt.Errorf("ledger: saving remote snapshot: %w", err)
	}

	return nil
}

// CloudWriter binds a user scope onto an OpClient, satisfying the queue's
// RemoteWriter contract.
type CloudWriter struct {
	client OpClient
	userID string
}

// NewCloudWriter creates the queue-facing remote writer.
func NewCloudWriter(client OpClient, userID string) *CloudWriter {
	return &CloudWriter{client: client, userID: userID}
}

// Apply forwards one mutation to the cloud API.
func (w *CloudWriter) Apply(ctx context.Context, op Op, collection, recordID string, payload []byte) error {
	return w.client.Apply(ctx, w.userID, string(op), collection, recordID, payload)
}
