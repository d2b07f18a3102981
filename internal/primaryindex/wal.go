// Package primaryindex implements component D: the mapping from primary key
// to (ts_offset, meta_offset), made crash-safe by a write-ahead log. The
// in-memory map and the on-disk log are kept deliberately separate -- per
// spec §10's Redesign Flags, collapsing "state" and "log" into one
// abstraction is exactly the mistake the source's dynamic-dispatch style
// invites, so Log and Index are two distinct types; Index's Open opens the
// Log and owns it.
package primaryindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/iamNilotpal/tsisax/internal/filestore"
	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// Op is the WAL record's operation tag.
type Op uint8

const (
	OpPut Op = iota + 1
	OpDel
)

// recordHeaderSize is the fixed prefix before the variable-length pk:
// op(1) + lsn(8) + tsOff(8) + metaOff(8) + pkLen(2) + crc32(4).
const recordHeaderSize = 1 + 8 + 8 + 8 + 2 + 4

// Record is one WAL entry: {lsn, op, pk, ts_off, meta_off} as named in spec
// §4.4. ts_off and meta_off are meaningless (zero) for OpDel.
type Record struct {
	LSN     uint64
	Op      Op
	PK      string
	TSOff   int64
	MetaOff int64
}

// Log is the append-only `pk.log` file: every mutation to PrimaryIndex is
// durably recorded here before it becomes visible in memory.
type Log struct {
	mu     sync.Mutex
	file   *filestore.File
	nextLSN uint64
}

// OpenLog opens (or creates) the log at path. startLSN is the LSN to resume
// numbering from, normally one past the highest LSN found in the last
// snapshot plus any replayed records.
func OpenLog(path string, startLSN uint64) (*Log, error) {
	f, err := filestore.Open(path, 0644)
	if err != nil {
		return nil, tserrors.IOFailure("primaryindex.OpenLog", err)
	}
	return &Log{file: f, nextLSN: startLSN}, nil
}

// Append writes one record to the log and fsyncs before returning, matching
// the write path's step (1)-(2): append then fsync, both of which must
// complete before the in-memory map is mutated.
func (l *Log) Append(op Op, pk string, tsOff, metaOff int64) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{LSN: l.nextLSN, Op: op, PK: pk, TSOff: tsOff, MetaOff: metaOff}
	buf := encodeRecord(rec)

	if _, err := l.file.Append(buf); err != nil {
		return Record{}, tserrors.IOFailure("primaryindex.Log.Append", err)
	}
	if err := l.file.Sync(); err != nil {
		return Record{}, tserrors.IOFailure("primaryindex.Log.Append", err)
	}

	l.nextLSN++
	return rec, nil
}

// Truncate discards the entire log, used right after a snapshot makes every
// record in it redundant.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Truncate(0); err != nil {
		return tserrors.IOFailure("primaryindex.Log.Truncate", err)
	}
	return nil
}

// Close closes the underlying log file.
func (l *Log) Close() error { return l.file.Close() }

// ReadAll reads every well-formed record currently in the log file at path,
// used during recovery to replay entries with lsn > snapshot lsn. A partial
// trailing record (truncated mid-write by a crash) is silently dropped, not
// treated as corruption -- it was never fsynced and thus never committed.
// A complete record whose checksum does not match is reported as an
// Integrity error.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tserrors.IOFailure("primaryindex.ReadAll", err)
	}
	defer f.Close()

	var records []Record
	r := bufio.NewReader(f)
	for {
		rec, ok, err := decodeRecord(r)
		if err != nil {
			return nil, tserrors.Integrity("primaryindex.ReadAll", err)
		}
		if !ok {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeRecord(rec Record) []byte {
	pk := []byte(rec.PK)
	buf := make([]byte, recordHeaderSize+len(pk))

	buf[0] = byte(rec.Op)
	binary.LittleEndian.PutUint64(buf[1:9], rec.LSN)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(rec.TSOff))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(rec.MetaOff))
	binary.LittleEndian.PutUint16(buf[25:27], uint16(len(pk)))
	copy(buf[recordHeaderSize:], pk)

	crc := crc32.ChecksumIEEE(buf[:recordHeaderSize-4])
	crc = crc32.Update(crc, crc32.IEEETable, pk)
	binary.LittleEndian.PutUint32(buf[27:31], crc)

	return buf
}

// decodeRecord reads one record from r. ok is false (with a nil error) on a
// clean EOF at a record boundary; a partial read (crash mid-write) is also
// reported as ok=false, nil error, since an un-fsynced partial record is
// indistinguishable from "nothing was ever written here" and must not abort
// recovery. A complete record whose checksum does not match returns an error.
func decodeRecord(r *bufio.Reader) (Record, bool, error) {
	header := make([]byte, recordHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if n == 0 {
			return Record{}, false, nil
		}
		return Record{}, false, nil
	}

	pkLen := binary.LittleEndian.Uint16(header[25:27])
	pk := make([]byte, pkLen)
	if _, err := io.ReadFull(r, pk); err != nil {
		return Record{}, false, nil
	}

	expectedCRC := binary.LittleEndian.Uint32(header[27:31])
	crc := crc32.ChecksumIEEE(header[:recordHeaderSize-4])
	crc = crc32.Update(crc, crc32.IEEETable, pk)
	if crc != expectedCRC {
		return Record{}, false, errors.New("wal record checksum mismatch")
	}

	rec := Record{
		Op:      Op(header[0]),
		LSN:     binary.LittleEndian.Uint64(header[1:9]),
		TSOff:   int64(binary.LittleEndian.Uint64(header[9:17])),
		MetaOff: int64(binary.LittleEndian.Uint64(header[17:25])),
		PK:      string(pk),
	}
	return rec, true, nil
}
