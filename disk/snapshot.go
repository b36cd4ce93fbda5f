package disk

import (
	"io"
	"os"

	"golang.org/x/xerrors"
)

// Snapshot is a read handle on one committed record. The record's bytes
// stay readable even if the record is evicted or replaced while the
// snapshot is open. Callers must Release it.
type Snapshot struct {
	file      *os.File
	expiresAt int64
}

// Reader returns a seekable reader over the blob in the given slot
func (snapshot *Snapshot) Reader(slot int) (io.ReadSeeker, error) {
	if slot != 0 {
		return nil, xerrors.Errorf("invalid slot %d, the cache stores %d slot per entry", slot, SlotsPerEntry)
	}

	return snapshot.file, nil
}

// File returns the underlying open blob file
func (snapshot *Snapshot) File() *os.File {
	return snapshot.file
}

// ExpiryTimestamp returns the expiry of the record in epoch milliseconds,
// zero when the record does not expire
func (snapshot *Snapshot) ExpiryTimestamp() int64 {
	return snapshot.expiresAt
}

// Release closes the snapshot. Releasing twice is a no-op.
func (snapshot *Snapshot) Release() error {
	if snapshot.file == nil {
		return nil
	}

	file := snapshot.file
	snapshot.file = nil

	err := file.Close()
	if err != nil {
		return xerrors.Errorf("failed to close snapshot file: %w", err)
	}

	return nil
}
