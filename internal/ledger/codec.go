package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// wireRecord is the JSON shape records take on the wire and in queue
// payloads. Timestamps are RFC3339 and amounts are decimal strings; the
// int64-nanosecond internal representation never leaves the process.
type wireRecord struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Kind        string          `json:"kind"`
	Amount      string          `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	OccurredAt  string          `json:"occurred_at"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	DeviceID    string          `json:"device_id"`
	Deleted     bool            `json:"deleted"`
	SyncStatus  string          `json:"sync_status"`
	CloudID     string          `json:"cloud_id,omitempty"`
	Resolution  string          `json:"resolution,omitempty"`
	Provenance  json.RawMessage `json:"provenance,omitempty"`
}

func toWire(r *Record) wireRecord {
	return wireRecord{
		ID:          r.ID,
		UserID:      r.UserID,
		Kind:        string(r.Kind),
		Amount:      r.Amount.String(),
		Category:    r.Category,
		Description: r.Description,
		OccurredAt:  FromUnixNano(r.OccurredAt).Format(time.RFC3339Nano),
		CreatedAt:   FromUnixNano(r.CreatedAt).Format(time.RFC3339Nano),
		UpdatedAt:   FromUnixNano(r.UpdatedAt).Format(time.RFC3339Nano),
		DeviceID:    r.DeviceID,
		Deleted:     r.Deleted,
		SyncStatus:  string(r.SyncStatus),
		CloudID:     r.CloudID,
		Resolution:  string(r.Resolution),
		Provenance:  r.Provenance,
	}
}

func fromWire(w *wireRecord) (Record, error) {
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: parsing wire amount %q: %w", w.Amount, err)
	}

	occurred, err := time.Parse(time.RFC3339Nano, w.OccurredAt)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: parsing occurred_at: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: parsing created_at: %w", err)
	}

	updated, err := time.Parse(time.RFC3339Nano, w.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: parsing updated_at: %w", err)
	}

	return Record{
		ID:          w.ID,
		UserID:      w.UserID,
		Kind:        Kind(w.Kind),
		Amount:      amount,
		Category:    w.Category,
		Description: w.Description,
		OccurredAt:  ToUnixNano(occurred),
		CreatedAt:   ToUnixNano(created),
		UpdatedAt:   ToUnixNano(updated),
		DeviceID:    w.DeviceID,
		Deleted:     w.Deleted,
		SyncStatus:  SyncStatus(w.SyncStatus),
		CloudID:     w.CloudID,
		Resolution:  Resolution(w.Resolution),
		Provenance:  w.Provenance,
	}, nil
}

// MarshalRecord serializes one record for queue payloads and remote writes.
func MarshalRecord(r *Record) ([]byte, error) {
	data, err := json.Marshal(toWire(r))
	if err != nil {
		return nil, fmt.Errorf("ledger: encoding record %s: %w", r.ID, err)
	}

	return data, nil
}

// MarshalRecords serializes a full snapshot for the remote replica.
func MarshalRecords(records []Record) ([]byte, error) {
	wires := make([]wireRecord, len(records))
	for i := range records {
		wires[i] = toWire(&records[i])
	}

	data, err := json.Marshal(wires)
	if err != nil {
		return nil, fmt.Errorf("ledger: encoding snapshot: %w", err)
	}

	return data, nil
}

// UnmarshalRecords parses a remote snapshot payload. Callers at the store
// boundary substitute an empty set when this fails — a corrupt remote
// payload must never propagate as a malformed snapshot.
func UnmarshalRecords(data []byte) ([]Record, error) {
	var wires []wireRecord
	if err := json.Unmarshal(data, &wires); err != nil {
		return nil, fmt.Errorf("ledger: decoding snapshot: %w", err)
	}

	records := make([]Record, 0, len(wires))

	for i := range wires {
		rec, err := fromWire(&wires[i])
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, nil
}
