package bulkload

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/cowrieproc/ingestcore/internal/model"
)

const maxLineBytes = 64 << 20 // 64 MiB ceiling on a single pretty-huge event line

// newLineScanner wraps r with spec.md §4.I step 2's "configurable buffer
// (default >= 1 MiB)" read buffer.
func newLineScanner(r io.Reader, bufSize int) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, bufSize), maxLineBytes)
	return sc
}

func decodePayload(line []byte) (model.Payload, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("parse line: %w", err)
	}
	return model.Payload(raw), nil
}

// statInode returns a stable per-platform file identity for rotation
// detection (spec.md §3 RawEvent.source_inode, §4.J "rotation is detected
// when inode changes for the same path"). Falls back to a size+mtime
// surrogate on platforms without a POSIX inode (e.g. Windows), since
// rotation detection degrades gracefully there rather than failing.
func statInode(fi os.FileInfo) string {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d", st.Ino)
	}
	return fmt.Sprintf("surrogate-%d-%d", fi.Size(), fi.ModTime().UnixNano())
}
