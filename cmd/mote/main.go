// Command mote runs a whole aqmesh DODAG, one root, any number of
// sensor and compute motes, in a single process. No pack repo ships a
// fetchable driver for the kind of low-power mesh radio spec.md's motes
// use (the closest match, other_examples' nrf24 file, is unfetchable
// register-level SPI code for one chip family), so the binary plays the
// role of every mote at once over transport/mock.Fabric, the same
// in-process medium the test suite drives, rather than fabricating a
// hardware driver dependency. See DESIGN.md.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aqmesh/internal/config"
	"aqmesh/internal/domain"
	"aqmesh/internal/gateway"
	"aqmesh/internal/logger"
	zapfactory "aqmesh/internal/logger/zap"
	"aqmesh/internal/mote"
	"aqmesh/internal/routingtable"
	"aqmesh/internal/scheduler"
	"aqmesh/internal/slope"
	"aqmesh/internal/telemetry"
	"aqmesh/internal/topology"
	"aqmesh/internal/transport"
	"aqmesh/internal/transport/mock"
)

var defaultConfigPath = "config/mote/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewZapAdapter(zapLog)
	} else {
		lgr = &logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	shutdown := telemetry.InitTracer(cfg.Telemetry, "aqmesh-mesh", domain.Unassigned)
	defer func() { _ = shutdown(context.Background()) }()

	fabric := mock.NewFabric(domain.RSS(cfg.Mesh.DefaultRSS))
	for _, link := range cfg.Mesh.Links {
		from, err := config.ParseID(link.From)
		if err != nil {
			lgr.Error("invalid mesh.links entry", logger.F("err", err))
			os.Exit(1)
		}
		to, err := config.ParseID(link.To)
		if err != nil {
			lgr.Error("invalid mesh.links entry", logger.F("err", err))
			os.Exit(1)
		}
		fabric.SetRSS(domain.NodeID(from), domain.NodeID(to), domain.RSS(link.RSS))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var gatewayDone chan error
	motes := make([]*mote.Mote, 0, len(cfg.Mesh.Motes))
	scheds := make([]*scheduler.Scheduler, 0, len(cfg.Mesh.Motes))

	for _, mc := range cfg.Mesh.Motes {
		rawID, err := config.ParseID(mc.ID)
		if err != nil {
			lgr.Error("invalid mesh.motes entry", logger.F("err", err))
			os.Exit(1)
		}
		self := domain.NodeID(rawID)

		var role domain.Role
		switch mc.Role {
		case "root":
			role = domain.RoleRoot
		case "sensor":
			role = domain.RoleSensor
		case "compute":
			role = domain.RoleCompute
		}

		moteLogger := lgr.Named("mote").With(logger.FAddr("self", self), logger.F("role", role.String()))
		sched := scheduler.New(scheduler.WithLogger(moteLogger.Named("scheduler")))

		var m *mote.Mote
		dispatch := func(from domain.NodeID, rss domain.RSS, buf []byte) { m.HandleFrame(from, rss, buf) }

		broadcastConn, err := fabric.Open(self, transport.ChannelBroadcast, transport.Callbacks{OnRecv: dispatch})
		if err != nil {
			lgr.Error("failed to open broadcast channel", logger.FAddr("self", self), logger.F("err", err))
			os.Exit(1)
		}
		unicastConn, err := fabric.Open(self, transport.ChannelUnicast, transport.Callbacks{OnRecv: dispatch})
		if err != nil {
			lgr.Error("failed to open unicast channel", logger.FAddr("self", self), logger.F("err", err))
			os.Exit(1)
		}

		moteOpts := []mote.Option{
			mote.WithLogger(moteLogger),
			mote.WithDataPeriod(pick(mc.DataPeriod, domain.DataPeriod)),
			mote.WithRoutingOptions(
				routingtable.WithInitialCapacity(cfg.Routing.InitialCapacity),
				routingtable.WithMaxChain(cfg.Routing.MaxChain),
			),
			mote.WithTopologyOptions(
				topology.WithTrickleBounds(cfg.Trickle.TMin, cfg.Trickle.TMax),
				topology.WithTimeouts(cfg.Routing.TimeoutChildren, cfg.Routing.TimeoutParent),
				topology.WithRSSHysteresis(domain.RSS(cfg.Routing.RSSHysteresis)),
			),
		}

		var gw *gateway.Gateway
		switch role {
		case domain.RoleSensor:
			moteOpts = append(moteOpts,
				mote.WithValveDuration(pick(mc.OpenDuration, domain.OpenDuration)),
				mote.WithSampleFunc(func() uint16 { return uint16(rand.Intn(1000)) }),
			)
		case domain.RoleCompute:
			moteOpts = append(moteOpts, mote.WithSlopeOptions(
				slope.WithTimeout(cfg.Routing.TimeoutChildren),
				slope.WithComparator(slope.DefaultComparator(cfg.Slope.SlopeThreshold)),
			))
		case domain.RoleRoot:
			if cfg.Gateway.Enabled {
				gw = gateway.New(os.Stdin, os.Stdout, func(dst domain.NodeID) { m.HandleOpenCommand(dst) },
					gateway.WithLogger(moteLogger.Named("gateway")))
				moteOpts = append(moteOpts, mote.WithGateway(gw))
			}
		}

		m = mote.New(self, role, sched, broadcastConn, unicastConn, moteOpts...)
		motes = append(motes, m)
		scheds = append(scheds, sched)

		if gw != nil {
			gatewayDone = make(chan error, 1)
			go func(g *gateway.Gateway) { gatewayDone <- g.Run() }(gw)
		}
	}

	for _, sched := range scheds {
		go sched.Run(ctx)
	}
	for _, m := range motes {
		m.Start()
	}
	lgr.Info("mesh started", logger.F("moteCount", len(motes)))

	if gatewayDone != nil {
		select {
		case <-ctx.Done():
		case err := <-gatewayDone:
			if err != nil {
				lgr.Error("gateway terminated", logger.F("err", err))
			}
			stop()
		}
	} else {
		<-ctx.Done()
	}

	lgr.Info("shutdown signal received, stopping")
	stop()
	for _, sched := range scheds {
		sched.Wait()
	}
	lgr.Info("mesh stopped")
}

// pick returns override if it is positive, else fallback.
func pick(override, fallback time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return fallback
}
