package hw

import (
	"errors"
	"testing"
)

func defaultCfg() QueueConfig {
	return QueueConfig{Desc: 512, Port: 0}
}

func TestCreateWalksStatesInOrder(t *testing.T) {
	sim := NewSim()
	reg := NewRegistry()

	o, err := Create(sim, sim.DefaultCaps(), defaultCfg(), reg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if o.State() != StateActive {
		t.Errorf("State = %s, want active", o.State())
	}
	if o.Refs() != 1 {
		t.Errorf("Refs = %d, want 1", o.Refs())
	}
	if reg.Verify() != 1 {
		t.Errorf("registry count = %d, want 1", reg.Verify())
	}

	want := []string{
		"create_cq",
		"create_qp",
		"modify_qp:created",
		"modify_qp:armed",
		"modify_qp:active",
		"query_queue",
	}
	if len(sim.Trace) != len(want) {
		t.Fatalf("trace = %v, want %v", sim.Trace, want)
	}
	for i, op := range want {
		if sim.Trace[i] != op {
			t.Errorf("trace[%d] = %s, want %s", i, sim.Trace[i], op)
		}
	}
}

func TestCreateCQSizing(t *testing.T) {
	tests := []struct {
		name    string
		desc    int
		wc      bool
		entries int
	}{
		{"one entry minimum", CompletionThreshold + 1, false, 1},
		{"threshold multiple", 512, false, 512/CompletionThreshold - 1},
		{"write combine margin", 512, true, 512/CompletionThreshold - 1 + WCCompletionMargin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSim()
			cfg := defaultCfg()
			cfg.Desc = tt.desc
			cfg.WriteCombine = tt.wc
			o, err := Create(sim, sim.DefaultCaps(), cfg, nil)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if got := o.Raw().CQEntries; got != tt.entries {
				t.Errorf("CQEntries = %d, want %d", got, tt.entries)
			}
			o.Release()
		})
	}
}

func TestCreateClampsWorkRequests(t *testing.T) {
	sim := NewSim()
	caps := sim.DefaultCaps()
	caps.MaxQueueWR = 256

	cfg := defaultCfg()
	cfg.Desc = 1024
	o, err := Create(sim, caps, cfg, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got := o.Raw().SQEntries; got != 256 {
		t.Errorf("SQEntries = %d, want 256", got)
	}
	o.Release()
}

func TestCreateUnwindsOnModifyFailure(t *testing.T) {
	sim := NewSim()
	sim.ModifyErrno[StateArmed] = 12 // ENOMEM

	_, err := Create(sim, sim.DefaultCaps(), defaultCfg(), nil)
	if err == nil {
		t.Fatal("Create succeeded despite modify failure")
	}
	var he *Error
	if !errors.As(err, &he) {
		t.Fatalf("error %v does not carry a device error", err)
	}
	if he.Errno != 12 {
		t.Errorf("Errno = %d, want 12", he.Errno)
	}

	// The queue pair must go before the completion queue it reports into.
	n := len(sim.Trace)
	if n < 2 || sim.Trace[n-2] != "destroy_qp" || sim.Trace[n-1] != "destroy_cq" {
		t.Errorf("teardown order wrong, trace tail: %v", sim.Trace)
	}
	if sim.LiveObjects() != 0 {
		t.Errorf("%d device objects leaked", sim.LiveObjects())
	}
}

func TestCreateUnwindsOnQPFailure(t *testing.T) {
	sim := NewSim()
	sim.CreateQPErrno = 12

	_, err := Create(sim, sim.DefaultCaps(), defaultCfg(), nil)
	if err == nil {
		t.Fatal("Create succeeded despite queue-pair failure")
	}
	if sim.LiveObjects() != 0 {
		t.Errorf("%d device objects leaked", sim.LiveObjects())
	}
}

func TestCreateRejectsWrongCQESize(t *testing.T) {
	sim := NewSim()
	sim.CQESize = 128

	_, err := Create(sim, sim.DefaultCaps(), defaultCfg(), nil)
	if !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("err = %v, want ErrConfigMismatch", err)
	}
	if sim.LiveObjects() != 0 {
		t.Errorf("%d device objects leaked", sim.LiveObjects())
	}
}

func TestCreateRejectsMissingMmapOffset(t *testing.T) {
	sim := NewSim()
	sim.DoorbellMmapOff = -1

	_, err := Create(sim, sim.DefaultCaps(), defaultCfg(), nil)
	if !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("err = %v, want ErrConfigMismatch", err)
	}
	if sim.LiveObjects() != 0 {
		t.Errorf("%d device objects leaked", sim.LiveObjects())
	}
}

func TestCreateRejectsCompressionOverride(t *testing.T) {
	t.Setenv(envCQECompression, "1")
	sim := NewSim()

	_, err := Create(sim, sim.DefaultCaps(), defaultCfg(), nil)
	if !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("err = %v, want ErrConfigMismatch", err)
	}
	if len(sim.Trace) != 0 {
		t.Errorf("device calls made despite rejected override: %v", sim.Trace)
	}
}

func TestReleaseRefcounting(t *testing.T) {
	sim := NewSim()
	reg := NewRegistry()
	o, err := Create(sim, sim.DefaultCaps(), defaultCfg(), reg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	o.Acquire()
	o.Acquire()
	if o.Releasable() {
		t.Error("object with three references reported releasable")
	}

	if got := o.Release(); got != 2 {
		t.Errorf("Release = %d, want 2", got)
	}
	if sim.LiveObjects() != 2 {
		t.Error("device objects destroyed while still referenced")
	}

	o.Release()
	if !o.Releasable() {
		t.Error("object with one reference not releasable")
	}
	if got := o.Release(); got != 0 {
		t.Errorf("final Release = %d, want 0", got)
	}
	if o.State() != StateUninitialized {
		t.Errorf("State after destroy = %s, want uninitialized", o.State())
	}
	if sim.LiveObjects() != 0 {
		t.Errorf("%d device objects leaked", sim.LiveObjects())
	}
	if reg.Verify() != 0 {
		t.Errorf("registry count = %d, want 0", reg.Verify())
	}
}

func TestSimSharesDoorbellPages(t *testing.T) {
	sim := NewSim()
	o1, err := Create(sim, sim.DefaultCaps(), defaultCfg(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	o2, err := Create(sim, sim.DefaultCaps(), defaultCfg(), nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	page1 := o1.Raw().DoorbellVA &^ uintptr(simPageSize-1)
	page2 := o2.Raw().DoorbellVA &^ uintptr(simPageSize-1)
	if page1 != page2 {
		t.Errorf("first two queues on different pages: %#x vs %#x", page1, page2)
	}
	if o1.Raw().DoorbellVA == o2.Raw().DoorbellVA {
		t.Error("two queues share one doorbell register")
	}

	o1.Release()
	o2.Release()
}
