package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/example/tmsim/gcm"
	"github.com/example/tmsim/simhost"
	"github.com/example/tmsim/txcontext"
	"github.com/example/tmsim/web"
)

func main() {
	var (
		scenarioName = flag.String("scenario", "eager-conflict", "predefined scenario name (see simhost.PredefinedScenarios)")
		configPath   = flag.String("config", "", "path to a TOML scenario file; overrides -scenario")
		maxCycles    = flag.Uint64("cycles", 10_000, "cycle budget before giving up")
		seed         = flag.Int64("seed", 1, "seed for the backoff jitter RNG")
		webAddr      = flag.String("web", "", "address to serve the live dashboard on (e.g. :8080); empty disables it")
		logLevel     = flag.String("loglevel", "info", "debug, info, warn, or error")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	SetLogger(NewAppLogger(level))
	log := GetLogger()

	scenario, err := loadScenario(*configPath, *scenarioName)
	if err != nil {
		log.WithError(err).Fatal("failed to load scenario")
	}

	deps := gcm.NewDependencyLog()
	broker := gcm.NewBroker()
	broker.Register(gcm.NewLogReporter(log))
	broker.Register(deps)

	var hub *web.Hub
	if *webAddr != "" {
		hub = web.NewHub()
		broker.Register(hub)
	}

	cycle := new(uint64)
	clock := func() uint64 { return *cycle }

	g, err := gcm.New(scenario.ConflictDetection, scenario.Versioning, scenario.CacheLineSize, len(scenario.Scripts), scenario.Config, broker, clock)
	if err != nil {
		log.WithError(err).Fatal("failed to construct coherence manager")
	}

	expBase, linBound, applyRand := g.BackoffConfig()
	backoff := txcontext.NewBackoffPolicy(expBase, linBound, applyRand, txcontext.WithRand(rand.New(rand.NewSource(*seed))))

	mem := simhost.NewFlatMemory()
	driver := simhost.NewDriver(g, backoff, mem, scenario.Scripts, cycle)

	if *webAddr != "" {
		srv := web.NewServer(g, deps, hub)
		log.WithField("addr", *webAddr).Info("serving dashboard")
		go func() {
			if err := http.ListenAndServe(*webAddr, srv); err != nil {
				log.WithError(err).Error("dashboard server exited")
			}
		}()
	}

	done := driver.Run(*maxCycles)
	log.WithFields(logrus.Fields{"cycles": *cycle, "converged": done, "processes": len(scenario.Scripts)}).Info("run finished")

	for i, proc := range driver.Processes() {
		log.WithFields(logrus.Fields{"pid": i, "aborts": proc.AbortCount()}).Info("process summary")
	}

	if !done {
		fmt.Fprintf(os.Stderr, "scenario did not converge within %d cycles\n", *maxCycles)
		os.Exit(1)
	}
}

func loadScenario(configPath, scenarioName string) (simhost.Scenario, error) {
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return simhost.Scenario{}, fmt.Errorf("read config: %w", err)
		}
		return simhost.LoadScenario(data)
	}
	return simhost.GetScenarioByName(scenarioName)
}
