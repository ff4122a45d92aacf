package store

import (
	"fmt"
	"path/filepath"
)

// recover replays every WAL transaction that was durably appended
// (survived Log.Sync) but never checkpointed, applying its mutations to
// the index pages exactly as the live write path would. It returns the
// last checkpointed transaction ID found in the store-level header (0
// for a fresh store).
//
// A replayed mutation occasionally duplicates one already present on
// disk: the write path applies index mutations immediately after the
// WAL sync, so a crash between "index pages written"
// and "checkpoint" leaves both the WAL record and its already-applied
// effect on disk. applyMutation treats that case (quad.ErrDuplicateKey)
// as success rather than corruption, since the (permuted components,
// TransactionID) key is unique per transaction and never reused, so a
// duplicate can only mean "this exact mutation is already there".
func (s *Store) recover() (uint64, error) {
	hdr, _, err := readStoreHeader(storeHeaderPath(s))
	if err != nil {
		return 0, fmt.Errorf("read store header: %w", err)
	}

	records, err := s.wal.Records()
	if err != nil {
		return 0, fmt.Errorf("read wal records: %w", err)
	}

	for _, rec := range records {
		if rec.TxID <= hdr.lastCheckpointTxID {
			continue
		}
		mutations, err := decodeMutations(rec.Payload)
		if err != nil {
			return 0, fmt.Errorf("decode wal record txid=%d: %w", rec.TxID, err)
		}
		for _, m := range mutations {
			if err := s.applyMutation(m); err != nil {
				return 0, fmt.Errorf("replay wal record txid=%d: %w", rec.TxID, err)
			}
		}
	}

	return hdr.lastCheckpointTxID, nil
}

func storeHeaderPath(s *Store) string {
	return filepath.Join(s.dir, "header")
}
