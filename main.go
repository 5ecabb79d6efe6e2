package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faker/faker/v4"
	log "github.com/sirupsen/logrus"
)

const appVersion = "1.0.0"

var (
	ll        = log.StandardLogger()
	appLogger = ll.WithContext(context.Background())
)

func init() {
	time.Local = time.UTC
}

func main() {
	var (
		stationID, csURL, configPath, controlPort, dbPath string
		demoFor                                           time.Duration
		showVersion                                       bool
	)
	flag.StringVar(&stationID, "cp", "", "charge point id")
	flag.StringVar(&csURL, "cs", "", "central system url (empty: standalone mode)")
	flag.StringVar(&configPath, "config", "", "station config file (yaml)")
	flag.StringVar(&controlPort, "control-port", "", "control server port (default: random)")
	flag.StringVar(&dbPath, "db", "", "db path (:memory: for in-memory)")
	flag.DurationVar(&demoFor, "demo", 0, "run a scripted charging demo for this duration")
	flag.BoolVar(&showVersion, "version", false, "show version")
	flag.Parse()

	if showVersion {
		fmt.Println("Current App Version:", appVersion)
		os.Exit(0)
	}

	cfg := DefaultConfig()
	if configPath != "" {
		loaded, err := LoadConfig(configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if stationID != "" {
		cfg.StationID = stationID
	}
	if csURL != "" {
		cfg.CentralSystemURL = csURL
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	appLogger = appLogger.WithField("cp", cfg.StationID)

	// listen to quit signals
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var store *Store
	var err error
	if cfg.DBPath == ":memory:" {
		store, err = OpenMemoryStore()
	} else {
		store, err = OpenStore(cfg.DBPath)
	}
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.SeedDefaults(cfg); err != nil {
		log.Fatal(err)
	}

	var dialer ProtocolDialer
	var ocpp *ocppDialer
	if cfg.CentralSystemURL == "" {
		appLogger.Info("no central system url, running standalone")
		dialer = newSimDialer(appLogger)
	} else {
		ocpp = newOCPPDialer(store, appLogger)
		dialer = ocpp
	}

	station := NewStation(cfg, appLogger, store, dialer, newLogDisplay(appLogger), nil)

	if ocpp != nil {
		if err := ocpp.Connect(cfg.CentralSystemURL, cfg.StationID, station); err != nil {
			appLogger.WithError(err).Fatalln("connecting to central system")
		}
	}

	station.Start()

	port, err := startHTTPServer(station, controlPort)
	if err != nil {
		appLogger.WithError(err).Fatalln("Error starting control server")
	}
	appLogger.WithField("control_port", port).Infoln("Control Server started")

	if demoFor > 0 {
		go runDemo(station, demoFor)
	}

	<-signals
	go func() {
		<-signals
		fmt.Println("Forcefully shutting down...")
		store.RecordShutdown()
		os.Exit(2)
	}()

	fmt.Println("Gracefully shutting down...")

	station.Stop()
	store.RecordShutdown()
	if ocpp != nil {
		ocpp.Disconnect()
	}
}

// runDemo is the scripted supervisory sequence: fill every connector, let
// the sessions run, then stop them all.
func runDemo(station *Station, d time.Duration) {
	appLogger.WithField("duration", d).Info("demo: starting sessions on all connectors")
	for i := 0; i < station.table.Size(); i++ {
		station.TriggerStart(AnyConnector, fmt.Sprintf("DEMO-%s", faker.CCNumber()))
	}

	time.Sleep(d)

	appLogger.Info("demo: stopping all sessions")
	for i := 0; i < station.table.Size(); i++ {
		station.TriggerStop(i)
	}
}
