package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethdrv/txq"
	"github.com/ethdrv/txq/internal/hw"
	"github.com/ethdrv/txq/internal/logging"
	"github.com/ethdrv/txq/internal/uar"
)

func main() {
	var (
		numQueues = flag.Int("queues", 4, "Number of transmit queues to set up")
		desc      = flag.Int("desc", 512, "Requested descriptors per queue")
		tso       = flag.Bool("tso", false, "Request TCP segmentation offload")
		secondary = flag.Bool("secondary", false, "Also attach a secondary process view and verify doorbells")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	sim := hw.NewSim()
	caps := sim.DefaultCaps()

	var offloads txq.OffloadFlags
	if caps.HWChecksum {
		offloads |= txq.OffloadIPv4Checksum | txq.OffloadTCPChecksum | txq.OffloadUDPChecksum
	}
	if *tso && caps.TSO {
		offloads |= txq.OffloadTSO
	}

	port := txq.DefaultPortConfig(0, *numQueues)
	port.Offloads = offloads

	dev, err := txq.NewDevice(sim, caps, txq.Config{
		Port:     port,
		Role:     txq.RolePrimary,
		Syscalls: uar.OSSyscalls{Anonymous: true},
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to open device", "error", err)
		os.Exit(1)
	}

	for i := 0; i < *numQueues; i++ {
		q, err := dev.Setup(i, *desc, 0, txq.QueueRequest{Offloads: offloads})
		if err != nil {
			logger.Error("queue setup failed", "queue", i, "error", err)
			os.Exit(1)
		}
		v := q.View()
		fmt.Printf("queue %d: qnum=%d desc=%d mode=%s doorbell=%#x inline_segs=%d\n",
			v.Index, v.QueueNum, v.Desc, v.Mode, v.Doorbell, v.MaxInlineSegs)
	}

	if *secondary {
		sec, err := dev.AttachSecondary(txq.Config{
			Syscalls: uar.OSSyscalls{Anonymous: true},
			Logger:   logger,
		})
		if err != nil {
			logger.Error("secondary attach failed", "error", err)
			os.Exit(1)
		}
		// The anonymous demo reserves a fresh window per process, so
		// addresses only agree when the window bases happen to align.
		if err := sec.RemapDoorbells(); err != nil {
			logger.Warn("secondary doorbell verification failed", "error", err)
		} else {
			fmt.Println("secondary process doorbell layout verified")
		}
	}

	for i := 0; i < *numQueues; i++ {
		dev.Release(i)
	}
	if leaked := dev.Verify(); leaked != 0 {
		logger.Error("objects leaked at shutdown", "count", leaked)
		os.Exit(1)
	}
	if err := dev.Close(); err != nil {
		logger.Error("device close failed", "error", err)
		os.Exit(1)
	}

	snap := dev.Metrics().Snapshot()
	fmt.Printf("setups=%d releases=%d warnings=%d hardware_errors=%d\n",
		snap.Setups, snap.Releases, snap.ResolverWarnings, snap.HardwareErrors)
	fmt.Println("all queues released, no leaks")
}
