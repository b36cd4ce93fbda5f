package disk

import (
	"io"
	"os"
	"sync"

	"github.com/rs/xid"
	"golang.org/x/xerrors"
)

// Editor is an exclusive write handle for one identifier. Written bytes
// become visible to readers only after Commit; Abort discards them and
// leaves any prior record untouched. Editors must be finished with exactly
// one Commit or Abort.
type Editor struct {
	cache      *DiskCache
	identifier string
	fileName   string
	tempSuffix string
	expiresAt  int64
	output     *os.File
	finished   bool
	mutex      sync.Mutex
}

func newEditor(cache *DiskCache, identifier string, fileName string) *Editor {
	return &Editor{
		cache:      cache,
		identifier: identifier,
		fileName:   fileName,
		tempSuffix: tempInfix + xid.New().String(),
	}
}

// GetIdentifier returns the identifier being edited
func (editor *Editor) GetIdentifier() string {
	return editor.identifier
}

// NewOutputStream opens the sink for the blob in the given slot.
// The stream is closed by Commit or Abort; callers need not close it.
func (editor *Editor) NewOutputStream(slot int) (io.WriteCloser, error) {
	editor.mutex.Lock()
	defer editor.mutex.Unlock()

	if slot != 0 {
		return nil, xerrors.Errorf("invalid slot %d, the cache stores %d slot per entry", slot, SlotsPerEntry)
	}

	if editor.finished {
		return nil, xerrors.Errorf("edit for %s is already finished", editor.identifier)
	}

	if editor.output != nil {
		return nil, xerrors.Errorf("output stream for %s is already open", editor.identifier)
	}

	tempPath := editor.cache.dataPath(editor.fileName) + editor.tempSuffix

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, xerrors.Errorf("failed to create cache file for %s: %w", editor.identifier, err)
	}

	editor.output = file
	return file, nil
}

// SetEntryExpiryTimestamp sets the expiry of the record in epoch
// milliseconds, zero for no expiry
func (editor *Editor) SetEntryExpiryTimestamp(expiresAt int64) {
	editor.mutex.Lock()
	defer editor.mutex.Unlock()

	editor.expiresAt = expiresAt
}

// Commit atomically publishes the written bytes and metadata, replacing any
// prior record for the identifier and evicting older records if the cache
// no longer fits its cap
func (editor *Editor) Commit() error {
	editor.mutex.Lock()
	defer editor.mutex.Unlock()

	if editor.finished {
		return xerrors.Errorf("edit for %s is already finished", editor.identifier)
	}
	editor.finished = true

	if editor.output == nil {
		editor.cache.abortEdit(editor)
		return xerrors.Errorf("no output stream was opened for %s", editor.identifier)
	}

	size, err := editor.closeOutput()
	if err != nil {
		editor.cache.abortEdit(editor)
		return err
	}

	return editor.cache.commitEdit(editor, size)
}

// Abort discards partial writes, leaving any prior record untouched
func (editor *Editor) Abort() {
	editor.mutex.Lock()
	defer editor.mutex.Unlock()

	if editor.finished {
		return
	}
	editor.finished = true

	if editor.output != nil {
		editor.output.Close()
		editor.output = nil
	}

	editor.cache.abortEdit(editor)
}

// closeOutput syncs and closes the sink, returning the number of bytes written
func (editor *Editor) closeOutput() (int64, error) {
	output := editor.output
	editor.output = nil

	info, err := output.Stat()
	if err != nil {
		output.Close()
		return 0, xerrors.Errorf("failed to stat cache file for %s: %w", editor.identifier, err)
	}

	err = output.Sync()
	if err != nil {
		output.Close()
		return 0, xerrors.Errorf("failed to sync cache file for %s: %w", editor.identifier, err)
	}

	err = output.Close()
	if err != nil {
		return 0, xerrors.Errorf("failed to close cache file for %s: %w", editor.identifier, err)
	}

	return info.Size(), nil
}
