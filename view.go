package txq

// View is an immutable snapshot of a queue's resolved state, safe to
// hand to diagnostics and the hot path without exposing the control
// block itself.
type View struct {
	Index    int
	Socket   int
	Desc     int
	Mode     BurstMode
	Offloads OffloadFlags

	TSO    bool
	Tunnel bool

	MaxInlineSegs int
	MaxInlineData int
	MaxTSOHeader  int

	// Hardware geometry the hot path posts against. Zero when the queue
	// pair has been torn down.
	QueueNum   uint32
	SQBase     uintptr
	SQEntries  int
	SQDoorbell uintptr
	CQBase     uintptr
	CQEntries  int
	CQDoorbell uintptr

	Doorbell uintptr
	Refs     int
}

// View snapshots the queue. The hardware queue number is zero when the
// queue pair has already been torn down.
func (q *Queue) View() View {
	v := View{
		Index:         q.idx,
		Socket:        q.socket,
		Desc:          q.params.Desc,
		Mode:          q.params.Mode,
		Offloads:      q.params.Offloads,
		TSO:           q.params.TSO,
		Tunnel:        q.params.Tunnel,
		MaxInlineSegs: q.params.MaxInlineSegs,
		MaxInlineData: q.params.MaxInlineData,
		MaxTSOHeader:  q.params.MaxTSOHeader,
		Doorbell:      q.doorbell,
		Refs:          int(q.refcnt),
	}
	if q.hwq != nil {
		raw := q.hwq.Raw()
		v.QueueNum = raw.QueueNum
		v.SQBase = raw.SQBase
		v.SQEntries = raw.SQEntries
		v.SQDoorbell = raw.SQDoorbell
		v.CQBase = raw.CQBase
		v.CQEntries = raw.CQEntries
		v.CQDoorbell = raw.CQDoorbell
	}
	return v
}
