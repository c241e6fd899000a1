// diskstore.go: per-(consumer,sensor) disk file layout, rotation, eviction
//
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// blockMagic is the fixed leading magic number of every block header,
// little-endian on disk as spec.md §4.6 requires bit-exactly.
const blockMagic uint32 = 0xDEAD5EC7

// blockHeaderSize is the encoded size in bytes of a blockHeader.
const blockHeaderSize = 4 + 1 + 1 + 4 + 4 + 8 + 8 + 4 + 4 // 38

// blockHeader precedes every sector-sized block in a data file.
type blockHeader struct {
	Magic        uint32
	Kind         uint8
	Flags        uint8
	SensorID     uint32
	RecordCount  uint32
	FirstUTCMs   uint64
	LastUTCMs    uint64
	PayloadBytes uint32
	CRC32        uint32
}

func encodeBlockHeader(h blockHeader) []byte {
	buf := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Kind
	buf[5] = h.Flags
	binary.LittleEndian.PutUint32(buf[6:10], h.SensorID)
	binary.LittleEndian.PutUint32(buf[10:14], h.RecordCount)
	binary.LittleEndian.PutUint64(buf[14:22], h.FirstUTCMs)
	binary.LittleEndian.PutUint64(buf[22:30], h.LastUTCMs)
	binary.LittleEndian.PutUint32(buf[30:34], h.PayloadBytes)
	binary.LittleEndian.PutUint32(buf[34:38], h.CRC32)
	return buf
}

func decodeBlockHeader(buf []byte) (blockHeader, error) {
	if len(buf) < blockHeaderSize {
		return blockHeader{}, fmt.Errorf("short block header: %d bytes", len(buf))
	}
	h := blockHeader{
		Magic:        binary.LittleEndian.Uint32(buf[0:4]),
		Kind:         buf[4],
		Flags:        buf[5],
		SensorID:     binary.LittleEndian.Uint32(buf[6:10]),
		RecordCount:  binary.LittleEndian.Uint32(buf[10:14]),
		FirstUTCMs:   binary.LittleEndian.Uint64(buf[14:22]),
		LastUTCMs:    binary.LittleEndian.Uint64(buf[22:30]),
		PayloadBytes: binary.LittleEndian.Uint32(buf[30:34]),
		CRC32:        binary.LittleEndian.Uint32(buf[34:38]),
	}
	if h.Magic != blockMagic {
		return h, fmt.Errorf("bad block magic: %#x", h.Magic)
	}
	return h, nil
}

// fileState tracks the currently-open write file for one (consumer,
// sensor) directory.
type fileState struct {
	f    *os.File
	seq  uint64
	size int64
}

// DiskStore implements spec.md §4.6: a per-(consumer, sensor) directory
// of fixed-format, sequence-numbered, size-rotated files, subject to a
// global per-directory byte cap enforced by oldest-first eviction.
//
// Grounded on the teacher's rotation.go (file-size rotation, retry-
// wrapped file operations) generalized to sector-block records instead
// of arbitrary log lines, and on the segmented-file/ack bookkeeping of
// the disk-backed queue in the njcx-libbeat_v8 reference (sequence ids,
// per-consumer deletion of fully-acked segments).
type DiskStore struct {
	mu   sync.Mutex
	root string

	rotationBytes int64
	byteCap       int64

	open map[string]*fileState // key: dirFor(consumer, sensor)
}

func NewDiskStore(root string, rotationBytes, byteCap int64) *DiskStore {
	return &DiskStore{
		root:          root,
		rotationBytes: rotationBytes,
		byteCap:       byteCap,
		open:          make(map[string]*fileState),
	}
}

func sensorDirName(sensorID SensorID) string {
	return fmt.Sprintf("sensor_%d", int32(sensorID))
}

func (d *DiskStore) dirFor(consumerTag string, sensorID SensorID) string {
	return filepath.Join(d.root, consumerTag, sensorDirName(sensorID))
}

func dataFileName(seq uint64) string {
	return fmt.Sprintf("data_%010d.bin", seq)
}

// parseSeq extracts the sequence number from a "data_NNNNNNNNNN.bin" name.
func parseSeq(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "data_") || !strings.HasSuffix(name, ".bin") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "data_"), ".bin")
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// listSeqs returns the sequence numbers of every data file in dir, ascending.
func listSeqs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := parseSeq(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// WriteBlock appends one sector-sized block to the named sensor's
// current file for the given consumer, rotating and evicting as needed.
// Called from the Write Path's direct-to-disk spill and from the
// shutdown flush, always under the owning sensor's lock.
func (d *DiskStore) WriteBlock(consumerTag string, sensorID SensorID, kind SectorKind, recordCount int, firstUTC, lastUTC int64, payload []byte) error {
	dir := d.dirFor(consumerTag, sensorID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return wrapDiskErr("mkdir", err)
	}

	if err := d.enforceByteCap(dir); err != nil {
		return err
	}

	kindByte := uint8(0)
	if kind == KindEVT {
		kindByte = 1
	}
	crc := crc32.ChecksumIEEE(payload)
	header := blockHeader{
		Magic:        blockMagic,
		Kind:         kindByte,
		SensorID:     uint32(sensorID),
		RecordCount:  uint32(recordCount),
		FirstUTCMs:   uint64(firstUTC),
		LastUTCMs:    uint64(lastUTC),
		PayloadBytes: uint32(len(payload)),
		CRC32:        crc,
	}
	block := append(encodeBlockHeader(header), payload...)

	d.mu.Lock()
	fs, err := d.currentFileLocked(dir)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if fs.size > 0 && fs.size+int64(len(block)) > d.rotationBytes {
		if err := d.rotateLocked(dir, fs); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	n, err := fs.f.Write(block)
	if err == nil {
		fs.size += int64(n)
	}
	d.mu.Unlock()
	if err != nil {
		return wrapDiskErr("write", err)
	}
	return nil
}

// currentFileLocked returns the open fileState for dir, opening the
// lowest-missing or highest-existing sequence file if none is open yet.
// Must be called with d.mu held.
func (d *DiskStore) currentFileLocked(dir string) (*fileState, error) {
	if fs, ok := d.open[dir]; ok {
		return fs, nil
	}
	seqs, err := listSeqs(dir)
	if err != nil {
		return nil, wrapDiskErr("readdir", err)
	}
	var seq uint64
	if len(seqs) > 0 {
		seq = seqs[len(seqs)-1]
	}
	fs, err := d.openForAppendLocked(dir, seq)
	if err != nil {
		return nil, err
	}
	d.open[dir] = fs
	return fs, nil
}

func (d *DiskStore) openForAppendLocked(dir string, seq uint64) (*fileState, error) {
	path := filepath.Join(dir, dataFileName(seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, wrapDiskErr("open", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, wrapDiskErr("stat", err)
	}
	return &fileState{f: f, seq: seq, size: info.Size()}, nil
}

// rotateLocked closes the current file and opens the next sequence
// number. Must be called with d.mu held.
func (d *DiskStore) rotateLocked(dir string, fs *fileState) error {
	if err := fs.f.Close(); err != nil {
		return wrapDiskErr("close", err)
	}
	next, err := d.openForAppendLocked(dir, fs.seq+1)
	if err != nil {
		return err
	}
	*fs = *next
	d.open[dir] = fs
	return nil
}

// enforceByteCap deletes whole files in ascending sequence order until
// the directory's total size is at or under the configured cap. Called
// before every block write, per spec.md §4.6.
func (d *DiskStore) enforceByteCap(dir string) error {
	seqs, err := listSeqs(dir)
	if err != nil {
		return wrapDiskErr("readdir", err)
	}
	total, sizes, err := dirSizes(dir, seqs)
	if err != nil {
		return err
	}
	d.mu.Lock()
	openSeq, hasOpen := int64(-1), false
	if fs, ok := d.open[dir]; ok {
		openSeq, hasOpen = int64(fs.seq), true
	}
	d.mu.Unlock()

	i := 0
	for total > d.byteCap && i < len(seqs) {
		seq := seqs[i]
		if hasOpen && int64(seq) == openSeq {
			// never delete the file currently open for writing
			i++
			continue
		}
		if err := os.Remove(filepath.Join(dir, dataFileName(seq))); err != nil && !os.IsNotExist(err) {
			return wrapDiskErr("remove", err)
		}
		total -= sizes[seq]
		i++
	}
	return nil
}

func dirSizes(dir string, seqs []uint64) (total int64, sizes map[uint64]int64, err error) {
	sizes = make(map[uint64]int64, len(seqs))
	for _, seq := range seqs {
		info, statErr := os.Stat(filepath.Join(dir, dataFileName(seq)))
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return 0, nil, wrapDiskErr("stat", statErr)
		}
		sizes[seq] = info.Size()
		total += info.Size()
	}
	return total, sizes, nil
}

// TotalBytes reports the current total size of a (consumer, sensor)
// directory, used by diagnostics and the byte-cap testable property.
func (d *DiskStore) TotalBytes(consumerTag string, sensorID SensorID) (int64, error) {
	dir := d.dirFor(consumerTag, sensorID)
	seqs, err := listSeqs(dir)
	if err != nil {
		return 0, wrapDiskErr("readdir", err)
	}
	total, _, err := dirSizes(dir, seqs)
	return total, err
}

// readBlockAt reads one block (header + payload) from an open file at
// the given byte offset.
func readBlockAt(f *os.File, offset int64) (blockHeader, []byte, error) {
	hbuf := make([]byte, blockHeaderSize)
	if _, err := f.ReadAt(hbuf, offset); err != nil {
		return blockHeader{}, nil, err
	}
	h, err := decodeBlockHeader(hbuf)
	if err != nil {
		return blockHeader{}, nil, err
	}
	payload := make([]byte, h.PayloadBytes)
	if _, err := f.ReadAt(payload, offset+blockHeaderSize); err != nil {
		return blockHeader{}, nil, err
	}
	if crc32.ChecksumIEEE(payload) != h.CRC32 {
		return blockHeader{}, nil, fmt.Errorf("crc mismatch")
	}
	return h, payload, nil
}

// ReadRecord produces the record at cur, advancing to the next record,
// block, or file as needed. Returns (record, nextCursor, io.EOF) once
// the consumer's disk stream for this sensor is fully drained. A drained
// cursor keeps its position, so blocks written after it drained are read
// from there on a later call.
func (d *DiskStore) ReadRecord(consumerTag string, sensorID SensorID, cur diskCursor, samplePeriodMs int64) (Record, diskCursor, error) {
	cur.drained = false
	dir := d.dirFor(consumerTag, sensorID)

	path := filepath.Join(dir, dataFileName(cur.seq))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Record{}, diskCursor{drained: true}, io.EOF
	}
	if err != nil {
		return Record{}, cur, wrapDiskErr("open", err)
	}
	defer f.Close()
	if info, statErr := f.Stat(); statErr == nil && cur.fileOffset >= info.Size() {
		seqs, err := listSeqs(dir)
		if err != nil {
			return Record{}, cur, wrapDiskErr("readdir", err)
		}
		for _, seq := range seqs {
			if seq > cur.seq {
				return d.ReadRecord(consumerTag, sensorID, diskCursor{seq: seq}, samplePeriodMs)
			}
		}
		cur.drained = true
		return Record{}, cur, io.EOF
	}

	header, payload, err := readBlockAt(f, cur.fileOffset)
	if err != nil {
		return Record{}, cur, wrapDiskErr("read", err)
	}

	var rec Record
	rec.Sensor = sensorID
	if header.Kind == 0 {
		rec.Value = tsdValueAt(payload, cur.recordIndex)
		rec.UTCMs = tsdTimestampAt(payload, cur.recordIndex, samplePeriodMs)
	} else {
		rec.Value = evtValueAt(payload, cur.recordIndex)
		rec.UTCMs = evtUTCAt(payload, cur.recordIndex)
	}

	next := cur
	if cur.recordIndex+1 < int(header.RecordCount) {
		next.recordIndex++
		return rec, next, nil
	}

	// advance past this block
	next.recordIndex = 0
	next.fileOffset = cur.fileOffset + blockHeaderSize + int64(header.PayloadBytes)

	info, statErr := f.Stat()
	if statErr == nil && next.fileOffset < info.Size() {
		return rec, next, nil
	}

	// current file exhausted; find the next sequence number
	seqs, err := listSeqs(dir)
	if err != nil {
		return rec, next, wrapDiskErr("readdir", err)
	}
	for _, seq := range seqs {
		if seq > cur.seq {
			next.seq = seq
			next.fileOffset = 0
			return rec, next, nil
		}
	}
	next.drained = true
	return rec, next, nil
}

// firstCursor returns a disk cursor positioned at the first block of the
// lowest-sequence file in a (consumer, sensor) directory, or a drained
// cursor if no files exist. Used by ConfigureSensor to seed each
// consumer's disk cursor at startup, and by DiskRecordCount.
func (d *DiskStore) firstCursor(consumerTag string, sensorID SensorID) (diskCursor, error) {
	dir := d.dirFor(consumerTag, sensorID)
	seqs, err := listSeqs(dir)
	if err != nil {
		return diskCursor{drained: true}, wrapDiskErr("readdir", err)
	}
	if len(seqs) == 0 {
		return diskCursor{drained: true}, nil
	}
	return diskCursor{seq: seqs[0]}, nil
}

// deleteFilesBefore removes every file in a (consumer, sensor) directory
// with sequence number strictly less than upToSeq. Called by
// ack_all_pending once a consumer's read cursor has moved past whole
// files (spec.md §4.9 step 3).
func (d *DiskStore) deleteFilesBefore(consumerTag string, sensorID SensorID, upToSeq uint64) error {
	dir := d.dirFor(consumerTag, sensorID)
	seqs, err := listSeqs(dir)
	if err != nil {
		return wrapDiskErr("readdir", err)
	}
	for _, seq := range seqs {
		if seq >= upToSeq {
			continue
		}
		d.mu.Lock()
		if fs, ok := d.open[dir]; ok && fs.seq == seq {
			d.mu.Unlock()
			continue // never remove the currently-open write file
		}
		d.mu.Unlock()
		if err := os.Remove(filepath.Join(dir, dataFileName(seq))); err != nil && !os.IsNotExist(err) {
			return wrapDiskErr("remove", err)
		}
	}
	return nil
}

// CountRemaining counts the records still ahead of cur in a consumer's
// disk stream for one sensor, by walking block headers without decoding
// payload values. Used by AvailableCount; a drained cursor counts the
// blocks written past its position since it drained.
func (d *DiskStore) CountRemaining(consumerTag string, sensorID SensorID, cur diskCursor) (uint64, error) {
	dir := d.dirFor(consumerTag, sensorID)
	seqs, err := listSeqs(dir)
	if err != nil {
		return 0, wrapDiskErr("readdir", err)
	}

	var total uint64
	for _, seq := range seqs {
		if seq < cur.seq {
			continue
		}
		path := filepath.Join(dir, dataFileName(seq))
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return total, wrapDiskErr("open", err)
		}

		offset := int64(0)
		if seq == cur.seq {
			offset = cur.fileOffset
		}
		for {
			hbuf := make([]byte, blockHeaderSize)
			if _, err := f.ReadAt(hbuf, offset); err != nil {
				break
			}
			h, err := decodeBlockHeader(hbuf)
			if err != nil {
				break
			}
			remaining := int(h.RecordCount)
			if seq == cur.seq && offset == cur.fileOffset {
				remaining -= cur.recordIndex
			}
			if remaining > 0 {
				total += uint64(remaining)
			}
			offset += blockHeaderSize + int64(h.PayloadBytes)
		}
		f.Close()
	}
	return total, nil
}

// CloseAll fsyncs and closes every currently-open write file, called
// during shutdown.
func (d *DiskStore) CloseAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for dir, fs := range d.open {
		if err := fs.f.Sync(); err != nil && firstErr == nil {
			firstErr = wrapDiskErr("fsync", err)
		}
		if err := fs.f.Close(); err != nil && firstErr == nil {
			firstErr = wrapDiskErr("close", err)
		}
		delete(d.open, dir)
	}
	return firstErr
}

// EraseAll removes the entire disk root, used by the configurable
// "erase on shutdown" policy (spec.md §4.8, §9 open question).
func (d *DiskStore) EraseAll() error {
	if err := os.RemoveAll(d.root); err != nil {
		return wrapDiskErr("remove_all", err)
	}
	return nil
}

// QuarantineFile moves a file that failed header/CRC validation out of
// the normal directory tree so recovery can continue past it.
func (d *DiskStore) QuarantineFile(consumerTag string, sensorID SensorID, seq uint64) error {
	dir := d.dirFor(consumerTag, sensorID)
	qdir := filepath.Join(d.root, "quarantine", consumerTag, sensorDirName(sensorID))
	if err := os.MkdirAll(qdir, 0750); err != nil {
		return wrapDiskErr("mkdir", err)
	}
	src := filepath.Join(dir, dataFileName(seq))
	dst := filepath.Join(qdir, dataFileName(seq))
	if err := os.Rename(src, dst); err != nil {
		return wrapDiskErr("rename", err)
	}
	return nil
}
