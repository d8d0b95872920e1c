package storage

import "peerlend/internal/model"

// EventStorage is a sink for ledger event records.
type EventStorage interface {
	PutEventBatch(events []model.EventRecord) error
}
