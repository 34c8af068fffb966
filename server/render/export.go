package render

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"ai-oracle/server/store"
)

// archiveVersion is bumped when the Archive layout changes.
const archiveVersion = 1

// Archive is the msgpack export of stored runs.
type Archive struct {
	Version int         `msgpack:"version"`
	Runs    []store.Run `msgpack:"runs"`
}

func WriteMsgpack(w io.Writer, runs []store.Run) error {
	enc := msgpack.NewEncoder(w)
	return enc.Encode(Archive{Version: archiveVersion, Runs: runs})
}

func ReadMsgpack(r io.Reader) (Archive, error) {
	var a Archive
	if err := msgpack.NewDecoder(r).Decode(&a); err != nil {
		return Archive{}, fmt.Errorf("decode archive: %w", err)
	}
	if a.Version != archiveVersion {
		return Archive{}, fmt.Errorf("unsupported archive version %d", a.Version)
	}
	return a, nil
}
