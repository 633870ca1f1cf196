// Package journal implements a memory-mapped, transactional journal with a
// single writer and any number of concurrent readers.
//
// A journal is a directory holding one file per stream. Stream 0,
// LFJ_STRM_0, is the journal's own transaction stream and starts with the
// header that catalogs every other stream and vector. Writers change the
// journal through transactions (see Tx); readers follow it through a
// ReadSnapshot.
package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alpacahq/lfjournal/journal/pos"
	"github.com/alpacahq/lfjournal/journal/stream"
	"github.com/alpacahq/lfjournal/metrics"
	"github.com/alpacahq/lfjournal/utils"
	"github.com/alpacahq/lfjournal/utils/log"
)

type Journal struct {
	dir          string
	writable     bool
	rollbackable bool
	existed      bool
	clock        utils.Clock

	hdr *OnDiskJournalHdr

	mu     sync.RWMutex
	closed bool
	strms  [pos.MaxStrms]*stream.Stream
	vecs   [pos.MaxVecs]*Vector

	obs observers
}

// Open opens the journal in dir. A writable open creates the directory
// when it is missing and takes the write lock of every stream file; a
// second writable open of the same journal fails with LockConflictError.
// A pre-existing journal is recovered: a transaction cut short by a crash
// is rolled back when rollbackable is set.
func Open(dir string, writable, rollbackable bool, opts ...Option) (*Journal, error) {
	start := time.Now()
	j := &Journal{
		dir:          dir,
		writable:     writable,
		rollbackable: rollbackable,
		clock:        utils.SystemClock{},
	}
	for _, opt := range opts {
		if err := opt(j); err != nil {
			return nil, err
		}
	}

	fi, err := os.Stat(dir)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return nil, &IoError{Op: "open", Path: dir, Err: errors.New("not a directory")}
		}
		j.existed = true
	case os.IsNotExist(err):
		if !writable {
			return nil, NotFoundError(dir)
		}
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, &IoError{Op: "mkdir", Path: dir, Err: err}
		}
	default:
		return nil, &IoError{Op: "stat", Path: dir, Err: err}
	}

	path0 := filepath.Join(dir, Strm0Name)
	_, err = os.Stat(path0)
	switch {
	case err == nil:
		err = j.recover()
	case os.IsNotExist(err):
		if !writable {
			return nil, NotFoundError(path0)
		}
		err = j.create()
	default:
		err = &IoError{Op: "stat", Path: path0, Err: err}
	}
	if err != nil {
		_ = j.Close()
		return nil, err
	}

	log.Info("opened journal %s (writable=%v, rollbackable=%v) in %v", dir, writable, rollbackable, time.Since(start))
	return j, nil
}

func (j *Journal) strm0Options(create bool) stream.Options {
	return stream.Options{
		Num:          0,
		Name:         Strm0Name,
		Type:         stream.Tx,
		Path:         filepath.Join(j.dir, Strm0Name),
		Writable:     j.writable,
		Rollbackable: j.rollbackable,
		Create:       create,
	}
}

// create initializes stream 0 with the bootstrap transaction, whose only
// operation is the header.
func (j *Journal) create() error {
	s0, err := stream.Open(j.strm0Options(true))
	if err != nil {
		return err
	}
	j.setStream(0, s0)

	seg, err := s0.MapSegment(0, true)
	if err != nil {
		return err
	}
	hdr := overlayHeader(seg.Bytes())
	var flags uint64
	if !j.existed {
		flags |= FlagNotExistBeforeOpen
	}
	hdr.init(uuid.New(), j.Now(), flags)
	s0.SetCounters(&hdr.Strms[0].Counters)

	buf, _, err := s0.StageWrite(bootstrapLen)
	if err != nil {
		return err
	}
	txHdr{opCount: 1, length: uint32(bootstrapLen), timestamp: hdr.CreationTimestamp}.put(buf)
	le.PutUint16(buf[txHdrSize:], uint16(OpOnDiskJournalHdr))
	le.PutUint16(buf[txHdrSize+2:], 0)
	le.PutUint32(buf[txHdrSize+4:], uint32(hdrSize))
	if err = s0.Prepare(); err != nil {
		return err
	}
	if _, err = s0.Commit(bootstrapLen); err != nil {
		return err
	}
	hdr.Strms[0].setState(slotCommitted)
	j.hdr = hdr

	log.Info("created journal %s with id %s", j.dir, j.Header().JournalID)
	return s0.Sync()
}

// recover loads the header from stream 0, opens every stream and vector it
// lists and brings each stream back to a consistent state. Stream 0 goes
// first: undoing its in-flight transaction may remove streams.
func (j *Journal) recover() error {
	start := time.Now()
	s0, err := stream.Open(j.strm0Options(false))
	if err != nil {
		return err
	}
	j.setStream(0, s0)

	seg, err := s0.MapSegment(0, false)
	if err != nil {
		return err
	}
	hdr := overlayHeader(seg.Bytes())
	if err = hdr.validate(s0.Path()); err != nil {
		return err
	}
	s0.SetCounters(&hdr.Strms[0].Counters)
	j.hdr = hdr

	for n := uint32(1); n <= hdr.highestStrmNum(); n++ {
		si := &hdr.Strms[n]
		if !j.usable(si.state()) {
			continue
		}
		if _, err = j.openStream(n, si, false); err != nil {
			return err
		}
	}
	for n := uint32(0); n < hdr.highestVecNumPlus1(); n++ {
		vi := &hdr.Vecs[n]
		if !j.usable(vi.state()) {
			continue
		}
		j.setVector(n, newVector(n, vi, j))
	}

	if err = s0.Recover(j.rollbackInflight(Strm0Name)); err != nil {
		return err
	}
	for n := uint32(1); n < pos.MaxStrms; n++ {
		s := j.openedStream(n)
		if s == nil {
			continue
		}
		if err = s.Recover(j.rollbackInflight(s.Name())); err != nil {
			return err
		}
	}
	if j.writable {
		if err = j.finishVectors(); err != nil {
			return err
		}
		j.trimHighWaterMarks()
	}

	metrics.RecoveryTime.Set(time.Since(start).Seconds())
	return nil
}

// finishVectors resolves vector creations a writer left between their
// transactions. A vector whose item stream was already created is linked
// to it; one without an item stream is released.
func (j *Journal) finishVectors() error {
	s0 := j.stream(0)
	s0.Lock()
	defer s0.Unlock()
	for n := uint32(0); n < j.hdr.highestVecNumPlus1(); n++ {
		vi := &j.hdr.Vecs[n]
		if vi.state() != slotAllocated {
			continue
		}
		name := vi.name()
		sn, ok := j.streamNum(name)
		if ok && j.hdr.Strms[sn].state() == slotCommitted && stream.Type(j.hdr.Strms[sn].Type) == stream.TxData {
			tx, err := j.beginLocked(s0)
			if err != nil {
				return err
			}
			if err = tx.setVecStrmNum(n, sn); err != nil {
				return err
			}
			if _, _, err = tx.commit(); err != nil {
				return err
			}
			log.Warn("linked vector %s to item stream %d left by an unfinished create", name, sn)
			continue
		}
		j.setVector(n, nil)
		clearVecSlot(vi)
		log.Warn("released vector %d (%s) left by an unfinished create", n, name)
	}
	return nil
}

// usable reports whether a slot in state st is opened by this handle.
// Readers only see committed slots; the writer also opens allocated ones
// so that recovery can undo their creation.
func (j *Journal) usable(st slotState) bool {
	if j.writable {
		return st != slotFree
	}
	return st == slotCommitted
}

// trimHighWaterMarks lowers the header's high-water marks past numbers
// that were allocated by a writer that crashed before using them.
func (j *Journal) trimHighWaterMarks() {
	h := j.hdr
	n := h.highestStrmNum()
	for n > 0 && h.Strms[n].state() == slotFree {
		n--
	}
	atomic.StoreUint64(&h.HighestStrmNum, uint64(n))

	v := h.highestVecNumPlus1()
	for v > 0 && h.Vecs[v-1].state() == slotFree {
		v--
	}
	atomic.StoreUint64(&h.HighestVecNumPlus1, uint64(v))
}

func (j *Journal) openStream(n uint32, si *StrmInfo, create bool) (*stream.Stream, error) {
	name := si.name()
	s, err := stream.Open(stream.Options{
		Num:          n,
		Name:         name,
		Type:         stream.Type(si.Type),
		Path:         filepath.Join(j.dir, name),
		Writable:     j.writable,
		Rollbackable: j.rollbackable,
		Create:       create,
		Counters:     &si.Counters,
	})
	if err != nil {
		return nil, err
	}
	j.setStream(n, s)
	return s, nil
}

// dropStream undoes the creation of stream n: the stream is closed, its
// file removed and its header slot freed.
func (j *Journal) dropStream(n uint32) error {
	j.mu.Lock()
	s := j.strms[n]
	j.strms[n] = nil
	j.mu.Unlock()

	si := &j.hdr.Strms[n]
	name := si.name()
	var err error
	if s != nil {
		err = s.Close()
	}
	clearStrmSlot(si)
	if name != "" {
		if rerr := os.Remove(filepath.Join(j.dir, name)); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = &IoError{Op: "remove", Path: filepath.Join(j.dir, name), Err: rerr}
		}
	}
	return err
}

func (j *Journal) restoreHighestStrmNum(n, prev uint32) {
	if j.hdr.highestStrmNum() >= n {
		atomic.StoreUint64(&j.hdr.HighestStrmNum, uint64(prev))
	}
}

func (j *Journal) restoreHighestVecNumPlus1(n, prev uint32) {
	if j.hdr.highestVecNumPlus1() > n {
		atomic.StoreUint64(&j.hdr.HighestVecNumPlus1, uint64(prev))
	}
}

func (j *Journal) setStream(n uint32, s *stream.Stream) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.strms[n] = s
}

func (j *Journal) setVector(n uint32, v *Vector) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.vecs[n] = v
}

func (j *Journal) openedStream(n uint32) *stream.Stream {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.strms[n]
}

// stream returns stream n, or nil when the handle does not know it. A
// read-only handle opens streams the writer committed after Open on first
// use.
func (j *Journal) stream(n uint32) *stream.Stream {
	if n >= pos.MaxStrms {
		return nil
	}
	j.mu.RLock()
	s, closed := j.strms[n], j.closed
	j.mu.RUnlock()
	if s != nil || j.writable || closed || j.hdr == nil {
		return s
	}
	return j.discoverStream(n)
}

func (j *Journal) discoverStream(n uint32) *stream.Stream {
	si := &j.hdr.Strms[n]
	if si.state() != slotCommitted {
		return nil
	}
	s, err := stream.Open(stream.Options{
		Num:      n,
		Name:     si.name(),
		Type:     stream.Type(si.Type),
		Path:     filepath.Join(j.dir, si.name()),
		Counters: &si.Counters,
	})
	if err != nil {
		log.Debug("stream %d not yet readable: %v", n, err)
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		_ = s.Close()
		return nil
	}
	if prev := j.strms[n]; prev != nil {
		_ = s.Close()
		return prev
	}
	j.strms[n] = s
	return s
}

func (j *Journal) vector(n uint32) *Vector {
	if n >= pos.MaxVecs {
		return nil
	}
	j.mu.RLock()
	v := j.vecs[n]
	j.mu.RUnlock()
	if v != nil || j.writable || j.hdr == nil {
		return v
	}

	vi := &j.hdr.Vecs[n]
	if vi.state() != slotCommitted {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.vecs[n] == nil {
		j.vecs[n] = newVector(n, vi, j)
	}
	return j.vecs[n]
}

// Stream returns stream n.
func (j *Journal) Stream(n uint32) (*stream.Stream, error) {
	if s := j.stream(n); s != nil {
		return s, nil
	}
	return nil, OutOfRangeError(fmt.Sprintf("stream %d", n))
}

func (j *Journal) streamNum(name string) (uint32, bool) {
	if j.hdr == nil {
		return 0, false
	}
	for n := uint32(0); n <= j.hdr.highestStrmNum(); n++ {
		si := &j.hdr.Strms[n]
		if j.usable(si.state()) && si.name() == name {
			return n, true
		}
	}
	return 0, false
}

func (j *Journal) StreamByName(name string) (*stream.Stream, error) {
	if n, ok := j.streamNum(name); ok {
		return j.Stream(n)
	}
	return nil, OutOfRangeError(fmt.Sprintf("stream %q", name))
}

// Vector returns vector n.
func (j *Journal) Vector(n uint32) (*Vector, error) {
	if v := j.vector(n); v != nil {
		return v, nil
	}
	return nil, OutOfRangeError(fmt.Sprintf("vector %d", n))
}

func (j *Journal) vectorNum(name string) (uint32, bool) {
	if j.hdr == nil {
		return 0, false
	}
	for n := uint32(0); n < j.hdr.highestVecNumPlus1(); n++ {
		vi := &j.hdr.Vecs[n]
		if j.usable(vi.state()) && vi.name() == name {
			return n, true
		}
	}
	return 0, false
}

func (j *Journal) VectorByName(name string) (*Vector, error) {
	if n, ok := j.vectorNum(name); ok {
		return j.Vector(n)
	}
	return nil, OutOfRangeError(fmt.Sprintf("vector %q", name))
}

func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) Writable() bool {
	return j.writable
}

// DidExistBeforeOpen reports whether the journal directory existed before
// the open that created the journal.
func (j *Journal) DidExistBeforeOpen() bool {
	if j.hdr == nil {
		return j.existed
	}
	return j.hdr.Flags&FlagNotExistBeforeOpen == 0
}

// Now is the journal clock's current time in nanoseconds.
func (j *Journal) Now() int64 {
	return j.clock.Now()
}

func (j *Journal) Header() HeaderInfo {
	if j.hdr == nil {
		return HeaderInfo{}
	}
	return j.hdr.info()
}

// Streams describes every stream slot this handle can use.
func (j *Journal) Streams() []StreamDesc {
	var out []StreamDesc
	if j.hdr == nil {
		return nil
	}
	for n := uint32(0); n <= j.hdr.highestStrmNum(); n++ {
		si := &j.hdr.Strms[n]
		st := si.state()
		if !j.usable(st) {
			continue
		}
		out = append(out, StreamDesc{
			Num:          n,
			Name:         si.name(),
			Type:         stream.Type(si.Type),
			Committed:    st == slotCommitted,
			AllocLen:     si.Alloc(),
			CommittedLen: si.Committed(),
			ValidLen:     si.Valid(),
		})
	}
	return out
}

// Vectors describes every vector slot this handle can use.
func (j *Journal) Vectors() []VectorDesc {
	var out []VectorDesc
	if j.hdr == nil {
		return nil
	}
	for n := uint32(0); n < j.hdr.highestVecNumPlus1(); n++ {
		if v := j.vector(n); v != nil && j.usable(v.info.state()) {
			out = append(out, v.desc())
		}
	}
	return out
}

func (j *Journal) checkWritable() error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !j.writable {
		return InvariantViolation(fmt.Sprintf("%s: journal is opened read-only", j.dir))
	}
	return nil
}

// AllocateNextStreamNum reserves the next stream number. The caller must
// hold stream 0's lock.
func (j *Journal) AllocateNextStreamNum() (uint32, error) {
	next := j.hdr.highestStrmNum() + 1
	if next >= pos.MaxStrms {
		return 0, CapacityExceededError(fmt.Sprintf("%d streams", pos.MaxStrms))
	}
	atomic.StoreUint64(&j.hdr.HighestStrmNum, uint64(next))
	return next, nil
}

// AllocateNextVectorNum reserves the next vector number. The caller must
// hold stream 0's lock.
func (j *Journal) AllocateNextVectorNum() (uint32, error) {
	next := j.hdr.highestVecNumPlus1()
	if next >= pos.MaxVecs {
		return 0, CapacityExceededError(fmt.Sprintf("%d vectors", pos.MaxVecs))
	}
	atomic.StoreUint64(&j.hdr.HighestVecNumPlus1, uint64(next)+1)
	return next, nil
}

func validateName(kind, name string, max int) error {
	switch {
	case name == "":
		return fmt.Errorf("empty %s name", kind)
	case len(name) > max:
		return fmt.Errorf("%s name %q is longer than %d bytes", kind, name, max)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%s name %q contains a path separator", kind, name)
	}
	return nil
}

// CreateStream creates a stream in its own transaction on stream 0.
func (j *Journal) CreateStream(name string, typ stream.Type) (uint32, error) {
	if err := j.checkWritable(); err != nil {
		return 0, err
	}
	if err := validateName("stream", name, pos.MaxNameLen); err != nil {
		return 0, err
	}
	if typ == stream.Unknown {
		return 0, InvariantViolation(fmt.Sprintf("stream %q: unknown stream type", name))
	}

	s0 := j.stream(0)
	s0.Lock()
	n, events, err := j.createStreamLocked(name, typ)
	s0.Unlock()
	if err != nil {
		return 0, err
	}
	j.notify(events)
	return n, nil
}

func (j *Journal) createStreamLocked(name string, typ stream.Type) (uint32, []Event, error) {
	if _, ok := j.streamNum(name); ok {
		return 0, nil, InvariantViolation(fmt.Sprintf("stream %q already exists", name))
	}
	prev := j.hdr.highestStrmNum()
	n, err := j.AllocateNextStreamNum()
	if err != nil {
		return 0, nil, err
	}
	tx, err := j.beginLocked(j.stream(0))
	if err != nil {
		j.restoreHighestStrmNum(n, prev)
		return 0, nil, err
	}
	if err = tx.createStrm(n, typ, name, prev); err != nil {
		j.restoreHighestStrmNum(n, prev)
		return 0, nil, err
	}
	_, events, err := tx.commit()
	if err != nil {
		j.restoreHighestStrmNum(n, prev)
		return 0, nil, err
	}
	log.Info("created %s %s as stream %d", typ, name, n)
	return n, events, nil
}

// VectorSpec describes a vector to create. Name defaults to
// CompID_DIRECTION_InstanceID.
type VectorSpec struct {
	Name        string
	Type        VecType
	CompID      string
	SessionID   string
	Direction   Direction
	InstanceID  uint64
	ItemIdxBase uint64
	EncodeName  string
}

func (spec *VectorSpec) name() string {
	if spec.Name != "" {
		return spec.Name
	}
	return fmt.Sprintf("%s_%s_%d", spec.CompID, spec.Direction, spec.InstanceID)
}

// CreateVector creates a vector together with its item stream. It runs
// three transactions on stream 0 under one lock: the vector descriptor,
// the TX_DATA_STREAM holding its items, and the link between them, which
// is when the vector becomes visible to readers.
func (j *Journal) CreateVector(spec VectorSpec) (uint32, error) {
	if err := j.checkWritable(); err != nil {
		return 0, err
	}
	name := spec.name()
	if err := validateName("vector", name, pos.MaxNameLen); err != nil {
		return 0, err
	}
	if len(spec.CompID) > pos.MaxCompIDLen || len(spec.SessionID) > pos.MaxCompIDLen {
		return 0, fmt.Errorf("vector %q: comp id and session id are limited to %d bytes", name, pos.MaxCompIDLen)
	}
	if spec.Type == UnknownVec {
		return 0, InvariantViolation(fmt.Sprintf("vector %q: unknown vector type", name))
	}

	s0 := j.stream(0)
	s0.Lock()
	n, events, err := j.createVectorLocked(name, spec)
	s0.Unlock()
	if err != nil {
		return 0, err
	}
	j.notify(events)
	return n, nil
}

func (j *Journal) createVectorLocked(name string, spec VectorSpec) (uint32, []Event, error) {
	if _, ok := j.vectorNum(name); ok {
		return 0, nil, InvariantViolation(fmt.Sprintf("vector %q already exists", name))
	}
	if _, ok := j.streamNum(name); ok {
		return 0, nil, InvariantViolation(fmt.Sprintf("vector %q: a stream with that name already exists", name))
	}

	prev := j.hdr.highestVecNumPlus1()
	vn, err := j.AllocateNextVectorNum()
	if err != nil {
		return 0, nil, err
	}
	create := &CreateVec{
		VecNum:           vn,
		Type:             spec.Type,
		Direction:        spec.Direction,
		PrevHighestPlus1: prev,
		ItemIdxBase:      spec.ItemIdxBase,
		InstanceID:       spec.InstanceID,
		Name:             name,
		EncodeName:       spec.EncodeName,
		CompID:           spec.CompID,
		SessionID:        spec.SessionID,
	}
	s0 := j.stream(0)
	tx, err := j.beginLocked(s0)
	if err == nil {
		if err = tx.createVec(create); err == nil {
			_, _, err = tx.commit()
		}
	}
	if err != nil {
		j.restoreHighestVecNumPlus1(vn, prev)
		return 0, nil, err
	}

	sn, _, err := j.createStreamLocked(name, stream.TxData)
	if err != nil {
		_ = create.undo(j)
		return 0, nil, err
	}

	tx, err = j.beginLocked(s0)
	if err == nil {
		if err = tx.setVecStrmNum(vn, sn); err == nil {
			var events []Event
			if _, events, err = tx.commit(); err == nil {
				log.Info("created %s %s as vector %d on stream %d", spec.Type, name, vn, sn)
				return vn, events, nil
			}
		}
	}
	if derr := j.dropStream(sn); derr != nil {
		log.Error("dropping item stream %d of vector %q: %v", sn, name, derr)
	}
	_ = create.undo(j)
	return 0, nil, err
}

// TxStream returns the number of the writer's own transaction stream
// TX_STRM_<name>, creating it on first use.
func (j *Journal) TxStream(name string) (uint32, error) {
	full := TxStrmPrefix + "_" + name
	if n, ok := j.streamNum(full); ok {
		return n, nil
	}
	n, err := j.CreateStream(full, stream.Tx)
	if err != nil {
		// lost a race with another goroutine of this writer
		if n, ok := j.streamNum(full); ok {
			return n, nil
		}
		return 0, err
	}
	return n, nil
}

// Append writes data to a DATA_STREAM outside of any transaction and
// returns its position.
func (j *Journal) Append(strmNum uint32, data []byte) (pos.Pos, error) {
	return j.append(strmNum, data, len(data))
}

// AppendWithAux writes data followed by its auxiliary tags. The returned
// position covers data only, so an item pointing at it reports the tags.
func (j *Journal) AppendWithAux(strmNum uint32, data, tags []byte) (pos.Pos, error) {
	return j.append(strmNum, AuxTagsRecord(data, tags), len(data))
}

func (j *Journal) append(strmNum uint32, record []byte, dataLen int) (pos.Pos, error) {
	if err := j.checkWritable(); err != nil {
		return pos.Null, err
	}
	if dataLen > pos.LenMask {
		return pos.Null, OutOfRangeError(fmt.Sprintf("record of %d bytes", dataLen))
	}
	s, err := j.Stream(strmNum)
	if err != nil {
		return pos.Null, err
	}
	if s.Type() != stream.Data {
		return pos.Null, InvariantViolation(fmt.Sprintf("%s is a %s, not a data stream", s.Name(), s.Type()))
	}
	s.Lock()
	p, err := s.Append(record)
	committed := s.CommittedLen()
	s.Unlock()
	if err != nil {
		return pos.Null, err
	}
	p = pos.New(strmNum, p.StrmOff(), uint32(dataLen), false)
	j.notify([]Event{{Kind: StreamUpdated, Name: s.Name(), StrmNum: strmNum, Pos: p, Len: committed}})
	return p, nil
}

// ReadData returns the committed record at p. The result aliases the
// mapping unless the record crosses a segment boundary.
func (j *Journal) ReadData(p pos.Pos) ([]byte, error) {
	if p.IsNull() {
		return nil, OutOfRangeError("null position")
	}
	s, err := j.Stream(p.StrmNum())
	if err != nil {
		return nil, err
	}
	views, err := s.ReadRange(p.StrmOff(), p.End())
	if err != nil {
		return nil, err
	}
	switch len(views) {
	case 0:
		return []byte{}, nil
	case 1:
		return views[0], nil
	}
	out := make([]byte, 0, p.Len())
	for _, v := range views {
		out = append(out, v...)
	}
	return out, nil
}

// Sync flushes every open stream to disk.
func (j *Journal) Sync() error {
	j.mu.RLock()
	strms := j.strms
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	for _, s := range strms {
		if s == nil {
			continue
		}
		if err := s.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every stream, stream 0 last. Closing twice is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	strms := j.strms
	j.strms = [pos.MaxStrms]*stream.Stream{}
	j.vecs = [pos.MaxVecs]*Vector{}
	j.mu.Unlock()

	var firstErr error
	for n := len(strms) - 1; n >= 0; n-- {
		if strms[n] == nil {
			continue
		}
		if err := strms[n].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.hdr = nil
	log.Info("closed journal %s", j.dir)
	return firstErr
}
