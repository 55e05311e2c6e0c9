package hw

import (
	"fmt"
	"sync"
)

// Sim is an in-memory device control used by tests and the demo binary.
// It honors the creation ordering contract, fabricates plausible queue
// geometry, and supports failure injection plus an op trace so tests can
// assert teardown ordering.
type Sim struct {
	mu     sync.Mutex
	nextID uint32
	cqs    map[CQ]int // entries
	qps    map[QP]*simQP

	// Failure injection. Errno values are returned wrapped in *Error;
	// zero means the call succeeds.
	CreateCQErrno int32
	CreateQPErrno int32
	ModifyErrno   map[State]int32
	QueryErrno    int32

	// Geometry overrides.
	CQESize         int   // default CacheLineSize
	DoorbellMmapOff int64 // default simDoorbellOff; set negative to simulate old control libraries

	// Trace records control calls in order ("create_cq", "destroy_qp", ...).
	Trace []string
}

type simQP struct {
	cfg   QPConfig
	state State
	index int // creation index, drives doorbell placement
}

const (
	simUARBase     = uintptr(0x7f5a_0000_0000)
	simSQBase      = uintptr(0x7f5b_0000_0000)
	simCQBase      = uintptr(0x7f5c_0000_0000)
	simDoorbellOff = int64(0x1000)
	simPageSize    = 4096

	// Two doorbell registers share each UAR page, like real silicon.
	simDoorbellStride = 0x100
	simDoorbellsPerPg = 2
)

// NewSim returns a simulated device control.
func NewSim() *Sim {
	return &Sim{
		cqs:         make(map[CQ]int),
		qps:         make(map[QP]*simQP),
		ModifyErrno: make(map[State]int32),
		CQESize:     CacheLineSize,
	}
}

// DefaultCaps returns the capability set the simulator models.
func (s *Sim) DefaultCaps() Caps {
	return Caps{
		MaxQueueWR:   16384,
		MaxSegsPerWR: MaxWQESegs,
		HWChecksum:   true,
		TSO:          true,
		Tunnel:       true,
		WriteCombine: true,
	}
}

func (s *Sim) trace(op string) {
	s.Trace = append(s.Trace, op)
}

func (s *Sim) CreateCQ(entries int) (CQ, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace("create_cq")
	if s.CreateCQErrno != 0 {
		return 0, &Error{Op: "create_cq", Errno: s.CreateCQErrno}
	}
	if entries < 1 {
		return 0, &Error{Op: "create_cq", Errno: 22} // EINVAL
	}
	s.nextID++
	cq := CQ(s.nextID)
	s.cqs[cq] = entries
	return cq, nil
}

func (s *Sim) DestroyCQ(cq CQ) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace("destroy_cq")
	if _, ok := s.cqs[cq]; !ok {
		return &Error{Op: "destroy_cq", Errno: 22}
	}
	delete(s.cqs, cq)
	return nil
}

func (s *Sim) CreateQP(cfg QPConfig) (QP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace("create_qp")
	if s.CreateQPErrno != 0 {
		return 0, &Error{Op: "create_qp", Errno: s.CreateQPErrno}
	}
	if _, ok := s.cqs[cfg.CQ]; !ok {
		return 0, &Error{Op: "create_qp", Errno: 22}
	}
	if cfg.MaxSendSegs != 1 {
		return 0, &Error{Op: "create_qp", Errno: 22}
	}
	s.nextID++
	qp := QP(s.nextID)
	s.qps[qp] = &simQP{cfg: cfg, state: StateUninitialized, index: len(s.qps)}
	return qp, nil
}

func (s *Sim) ModifyQP(qp QP, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace(fmt.Sprintf("modify_qp:%s", to))
	q, ok := s.qps[qp]
	if !ok {
		return &Error{Op: "modify_qp", Errno: 22}
	}
	if errno := s.ModifyErrno[to]; errno != 0 {
		return &Error{Op: "modify_qp", Errno: errno}
	}
	if to != q.state+1 {
		// Out-of-order transition; the real device rejects these too.
		return &Error{Op: "modify_qp", Errno: 22}
	}
	q.state = to
	return nil
}

func (s *Sim) DestroyQP(qp QP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace("destroy_qp")
	if _, ok := s.qps[qp]; !ok {
		return &Error{Op: "destroy_qp", Errno: 22}
	}
	delete(s.qps, qp)
	return nil
}

func (s *Sim) QueryQueue(qp QP, cq CQ) (Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace("query_queue")
	if s.QueryErrno != 0 {
		return Raw{}, &Error{Op: "query_queue", Errno: s.QueryErrno}
	}
	q, ok := s.qps[qp]
	if !ok {
		return Raw{}, &Error{Op: "query_queue", Errno: 22}
	}
	entries, ok := s.cqs[cq]
	if !ok {
		return Raw{}, &Error{Op: "query_queue", Errno: 22}
	}

	mmapOff := s.DoorbellMmapOff
	if mmapOff == 0 {
		mmapOff = simDoorbellOff
	}

	page := q.index / simDoorbellsPerPg
	reg := q.index % simDoorbellsPerPg
	doorbell := simUARBase +
		uintptr(page)*simPageSize +
		uintptr(reg)*simDoorbellStride

	return Raw{
		QueueNum:        uint32(qp),
		SQBase:          simSQBase + uintptr(qp)*0x10000,
		SQEntries:       q.cfg.MaxSendWR,
		SQDoorbell:      simSQBase + uintptr(qp)*0x10000 + 0x8000,
		CQBase:          simCQBase + uintptr(cq)*0x10000,
		CQEntries:       entries,
		CQDoorbell:      simCQBase + uintptr(cq)*0x10000 + 0x8000,
		CQESize:         s.CQESize,
		DoorbellVA:      doorbell,
		DoorbellMmapOff: mmapOff,
	}, nil
}

// LiveObjects reports how many device objects the simulator still holds.
func (s *Sim) LiveObjects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cqs) + len(s.qps)
}

var _ Control = (*Sim)(nil)
