package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mykhaliev/answer-checker/engine"
	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
	"github.com/mykhaliev/answer-checker/report"
	"github.com/mykhaliev/answer-checker/scaffold"
	"github.com/mykhaliev/answer-checker/version"
)

func main() {
	agentName := flag.String("a", "", "agent name to test (required unless -list)")
	testName := flag.String("t", "", "run a single named test instead of the full suite")
	environment := flag.String("e", "dev", "environment section to load from the config files")
	testsDir := flag.String("tests", "tests", "directory holding per-agent test suites")
	configsDir := flag.String("configs", "configs", "directory holding agent config files")
	reportsDir := flag.String("reports", "reports", "directory reports are written to")
	dryRun := flag.Bool("dry-run", false, "validate and build requests without executing them")
	keepStubs := flag.Bool("keep-stubs", false, "keep the stub service running until the end of the run")
	noStubs := flag.Bool("no-stubs", false, "do not start the mock tool service")
	successRate := flag.Float64("success-rate", -1, "minimum pass fraction (0..1) for a zero exit code; default is strict")
	logFile := flag.String("l", "", "also write logs to this file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	listAgents := flag.Bool("list", false, "list agents that have test suites and exit")
	scaffoldSuite := flag.Bool("scaffold", false, "generate a starter test suite for the agent and exit")
	showVersion := flag.Bool("v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("answer-checker %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
		return
	}

	logWriter, logHandle, err := logger.SetupLogWriter(*logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if logHandle != nil {
		defer logHandle.Close()
	}
	logger.SetupLogger(logWriter, *verbose)

	if *listAgents {
		agents, err := model.DiscoverAgents(*testsDir)
		if err != nil {
			logger.Logger.Error("Failed to discover agents", "error", err)
			os.Exit(2)
		}
		for _, agent := range agents {
			fmt.Println(agent)
		}
		return
	}

	if *agentName == "" {
		fmt.Fprintln(os.Stderr, "agent name is required (-a)")
		flag.Usage()
		os.Exit(2)
	}

	if *scaffoldSuite {
		if err := scaffold.Generate(*testsDir, *configsDir, *agentName); err != nil {
			logger.Logger.Error("Scaffolding failed", "error", err)
			os.Exit(2)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := model.LoadAgentConfig(*configsDir, *agentName, *environment)
	if err != nil {
		logger.Logger.Error("Failed to load agent configuration", "error", err)
		os.Exit(2)
	}

	var suite *model.AgentTestSuite
	if *testName != "" {
		suite, err = model.LoadSingleTest(*testsDir, *agentName, *testName)
	} else {
		suite, err = model.LoadAgentTestSuite(*testsDir, *agentName)
	}
	if err != nil {
		logger.Logger.Error("Failed to load test suite", "error", err)
		os.Exit(2)
	}

	runner := engine.NewEngine(cfg, engine.Options{
		TestsDir:  *testsDir,
		DryRun:    *dryRun,
		KeepStubs: *keepStubs,
		NoStubs:   *noStubs,
	})
	rep := runner.Run(ctx, suite)

	if _, err := report.WriteCSV(*reportsDir, rep); err != nil {
		logger.Logger.Error("Failed to write CSV report", "error", err)
	}
	if _, err := report.WriteJSON(*reportsDir, rep); err != nil {
		logger.Logger.Error("Failed to write JSON report", "error", err)
	}
	report.PrintSummary(rep)

	os.Exit(report.ExitCode(rep, *successRate))
}
