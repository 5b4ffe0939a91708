// Command smartlinkd is the process entry point (spec.md §2): it
// parses flags, loads configuration, wires the Neighborhood, the ARQ
// controller, the TDMA engine, the PHY, and the transport together,
// then runs until signaled to shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/drexelwireless/smartlink/internal/arq"
	"github.com/drexelwireless/smartlink/internal/chanlog"
	"github.com/drexelwireless/smartlink/internal/clock"
	"github.com/drexelwireless/smartlink/internal/config"
	"github.com/drexelwireless/smartlink/internal/devicewatch"
	"github.com/drexelwireless/smartlink/internal/discovery"
	"github.com/drexelwireless/smartlink/internal/estimator"
	"github.com/drexelwireless/smartlink/internal/logging"
	"github.com/drexelwireless/smartlink/internal/mcs"
	"github.com/drexelwireless/smartlink/internal/neighborhood"
	"github.com/drexelwireless/smartlink/internal/ptt"
	"github.com/drexelwireless/smartlink/internal/radio"
	"github.com/drexelwireless/smartlink/internal/rigctl"
	"github.com/drexelwireless/smartlink/internal/simchannel"
	"github.com/drexelwireless/smartlink/internal/tdma"
	"github.com/drexelwireless/smartlink/internal/transport"
	"github.com/drexelwireless/smartlink/internal/tuntap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smartlinkd:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	log := logging.New(os.Stderr, cfg.Verbosity)
	log.Infof("smartlinkd starting: node_id=%d peers=%v loopback=%v", cfg.NodeID, cfg.Peers, cfg.Loopback)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, err := openDevice(cfg)
	if err != nil {
		return err
	}
	defer dev.Close()

	if cfg.DeviceWatch.Enabled {
		watcher := devicewatch.New(cfg.DeviceWatch.Subsystem)
		events, err := watcher.Watch(ctx)
		if err != nil {
			log.Warnf("devicewatch: %v", err)
		} else {
			go func() {
				for ev := range events {
					log.Infof("devicewatch: %s present=%v syspath=%s", ev.Action, ev.Present, ev.Syspath)
				}
			}()
		}
	}

	nh := neighborhood.New(dev)
	for _, p := range cfg.Peers {
		if p != cfg.NodeID {
			nh.Get(p)
		}
	}

	egress := &tunEgress{dev: dev, log: logging.For(log, "egress")}
	arqCfg := buildARQConfig(cfg)
	ctrl := arq.New(cfg.NodeID, arqCfg, clock.New(), nh, egress, logging.For(log, "arq"))
	defer ctrl.Stop()

	var keyer tdma.Keyer = ptt.NopKeyer{}
	if cfg.PTT.Enabled {
		gpioKeyer, err := ptt.NewGPIOKeyer(cfg.PTT.Chip, cfg.PTT.Line)
		if err != nil {
			return fmt.Errorf("smartlinkd: ptt: %w", err)
		}
		defer gpioKeyer.Close()
		keyer = gpioKeyer
	}

	if cfg.Rig.Enabled {
		rig, err := rigctl.Open(cfg.Rig.Model, cfg.Rig.Device)
		if err != nil {
			return fmt.Errorf("smartlinkd: rigctl: %w", err)
		}
		defer rig.Close()

		self := nh.Get(cfg.NodeID)
		go func() {
			ticker := time.NewTicker(cfg.MCS.FastAdjustmentPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := rig.Sync(self); err != nil {
						log.Warnf("rigctl: sync: %v", err)
					}
				}
			}
		}()
	}

	var cl *chanlog.ChannelLog
	var bursts tdma.BurstRecorder
	if cfg.Chanlog.Enabled {
		cl, err = chanlog.NewChannelLog(cfg.Chanlog.Dir)
		if err != nil {
			return err
		}
		defer cl.Close()
		if cfg.Chanlog.Bursts {
			recorder, err := chanlog.NewBurstRecorder(cfg.Chanlog.Dir)
			if err != nil {
				return err
			}
			bursts = recorder
		}
	}
	var tr transport.IQTransport
	if cfg.Audio.Enabled {
		rate, frames := config.AudioDefaults()
		if cfg.Audio.SampleRate > 0 {
			rate = cfg.Audio.SampleRate
		}
		if cfg.Audio.FramesPerBuffer > 0 {
			frames = cfg.Audio.FramesPerBuffer
		}
		bridge, err := simchannel.OpenAudioBridge(rate, frames)
		if err != nil {
			return fmt.Errorf("smartlinkd: audio: %w", err)
		}
		defer bridge.Close()
		tr = simchannel.NewAudioTransport(bridge)
	} else {
		medium := simchannel.NewMedium(0, cfg.MCS.Seed)
		tr = medium.NewTransport(48000)
	}
	ch := simchannel.NewChannel()

	tdmaCfg := tdma.Config{
		Self:             cfg.SlotRank(),
		NumPeers:         len(cfg.Peers),
		FrameSize:        cfg.FrameSize,
		PadSize:          cfg.PadSize,
		PacketsPerSlot:   cfg.PacketsPerSlot,
		RxThreadPoolSize: cfg.RxThreadPoolSize,
		PaddedBytes:      cfg.PaddedBytes,
		HeaderMCS:        mcs.Scheme{CRCScheme: "crc16", InnerFEC: "none", OuterFEC: "rs8", Modulation: "bpsk"},
		PayloadMCS:       defaultMCSTable(),
	}
	var chanLog tdma.ChannelLogger
	if cl != nil {
		chanLog = cl
	}
	engine := tdma.New(tdmaCfg, clock.New(), tr, ch, ctrl, keyer, bursts, chanLog, logging.For(log, "tdma"))

	if cfg.Discovery.Enabled {
		if _, err := discovery.Announce(ctx, cfg.NodeID, cfg.Discovery.Domain, 7654); err != nil {
			log.Warnf("discovery: announce failed: %v", err)
		}
		browser := discovery.NewBrowser(nh, logging.For(log, "discovery"))
		go func() {
			if err := browser.Run(ctx, cfg.Discovery.Domain); err != nil && ctx.Err() == nil {
				log.Warnf("discovery: browse stopped: %v", err)
			}
		}()
	}

	engine.Start(ctx)

	tunDone := make(chan struct{})
	go tunReadLoop(dev, ctrl, nh, tunDone)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("smartlinkd: signal received, draining")

	// Two-phase shutdown drain (spec.md §5): stop the TX/RX drivers and
	// join demod workers, then stop the timer thread, then tear down
	// the device. ctrl.Stop() (the timer thread) is already deferred
	// above and runs after engine.Stop() returns here.
	cancel()
	engine.Stop()

	select {
	case <-tunDone:
	case <-time.After(time.Second):
	}

	return nil
}

// openDevice opens a pty-backed Loopback device for -l runs (no root or
// kernel TUN support required) and a real kernel TUN device otherwise.
func openDevice(cfg config.Config) (tuntap.Device, error) {
	if cfg.Loopback {
		return tuntap.OpenLoopback()
	}
	addr := fmt.Sprintf("10.0.0.%d", cfg.NodeID)
	return tuntap.OpenLinux(cfg.TunDevice, addr, 24)
}

func buildARQConfig(cfg config.Config) arq.Config {
	return arq.Config{
		SendMaxWin:         cfg.SendMaxWin,
		RecvWin:            cfg.RecvWin,
		RetxDelay:          cfg.RetxDelay,
		AckDelay:           cfg.AckDelay,
		MaxRetransmissions: cfg.MaxRetransmissions,
		Horizons: estimator.Horizons{
			ShortPER: cfg.ShortPERWindow, LongPER: cfg.LongPERWindow,
			ShortEVM: cfg.ShortEVMWindow, LongEVM: cfg.LongEVMWindow,
			ShortRSSI: cfg.ShortRSSIWindow, LongRSSI: cfg.LongRSSIWindow,
		},
		MCS: arq.MCSConfig{
			MinIdx:               radio.MCSIndex(cfg.MCS.MinIdx),
			MaxIdx:               radio.MCSIndex(cfg.MCS.MaxIdx),
			BroadcastIdx:         radio.MCSIndex(cfg.MCS.BroadcastIdx),
			AckIdx:               radio.MCSIndex(cfg.MCS.AckIdx),
			UpThreshold:          cfg.MCS.UpThreshold,
			DownThreshold:        cfg.MCS.DownThreshold,
			Alpha:                cfg.MCS.Alpha,
			ProbFloor:            cfg.MCS.ProbFloor,
			DecisionEpochPackets: cfg.MCS.DecisionEpochPackets,
			FastDecisionEpoch:    cfg.MCS.FastDecisionEpoch,
			FastAdjustmentPeriod: cfg.MCS.FastAdjustmentPeriod,
			UnreachableTimeout:   cfg.MCS.UnreachableTimeout,
			Seed:                 cfg.MCS.Seed,
		},
	}
}

func defaultMCSTable() mcs.Table {
	names := []string{"bpsk", "qpsk", "qam8", "qam16", "qam32", "qam64", "qam128", "qam256"}
	table := make(mcs.Table, len(names))
	for i, m := range names {
		table[i] = mcs.Scheme{CRCScheme: "crc32", InnerFEC: "conv", OuterFEC: "rs8", Modulation: m}
	}
	return table
}

// tunEgress adapts a tuntap.Device into arq.EgressSink.
type tunEgress struct {
	dev tuntap.Device
	log logger
}

type logger interface {
	Warnf(format string, args ...interface{})
}

func (e *tunEgress) Deliver(src radio.NodeId, datagram []byte) {
	if _, err := e.dev.Write(datagram); err != nil {
		e.log.Warnf("egress: writing datagram from node %d: %v", src, err)
	}
}

// tunReadLoop drains the TUN device and hands every datagram to the
// controller's Send, resolving the destination NodeId from the
// datagram's IPv4 destination address (peers are addressed as
// <base>.<node_id>, matching tuntap.Linux's AddARPEntry scheme).
func tunReadLoop(dev tuntap.Device, ctrl *arq.Controller, nh *neighborhood.Neighborhood, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 65536)
	for {
		n, err := dev.Read(buf)
		if err != nil {
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		dst := resolveNexthop(datagram)
		gain := float32(1.0)
		if node, ok := nh.Lookup(dst); ok {
			gain = node.SoftGain()
		}
		ctrl.Send(dst, datagram, gain)
	}
}

func resolveNexthop(datagram []byte) radio.NodeId {
	if len(datagram) < 20 || datagram[0]>>4 != 4 {
		return radio.Broadcast
	}
	return radio.NodeId(datagram[19])
}
