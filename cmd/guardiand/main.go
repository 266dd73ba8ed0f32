// Command guardiand runs the Guardian decision engine as a standalone
// daemon, listening for line-delimited JSON capability checks on a
// Unix-domain socket.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/guardian"
	"github.com/nyxkernel/corekernel/utils"
)

var log = logrus.WithField("component", "guardiand")

func main() {
	var (
		configPath = flag.String("config", "/etc/nyx/guardian.toml", "path to the guardian policy/config TOML file")
		socketPath = flag.String("socket", guardian.DefaultSocketPath, "unix-domain socket to listen on")
		pidFile    = flag.String("pidfile", "/run/nyx/guardiand.pid", "path to write the daemon's pid file")
		permissive = flag.Bool("permissive", false, "run in permissive mode (policy denials become allow, critical-risk denials become maximum sandbox)")
		noReload   = flag.Bool("no-reload", false, "disable automatic reload when the config file changes")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := utils.CreatePidFile("guardiand", *pidFile); err != nil {
		log.WithError(err).Fatal("failed to create pid file")
	}
	defer utils.DestroyPidFile(*pidFile)

	cfg, err := guardian.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	audit, err := guardian.NewAuditLogger(cfg.Audit)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize audit logger")
	}

	var srv *guardian.Server
	if *noReload {
		policy, err := guardian.NewPolicyEngine(cfg.Policies)
		if err != nil {
			log.WithError(err).Fatal("failed to build policy engine")
		}
		intent, err := guardian.NewIntentAnalyzer(cfg.Intent)
		if err != nil {
			log.WithError(err).Fatal("failed to build intent analyzer")
		}
		pattern, err := guardian.NewPatternLearner(cfg.Patterns)
		if err != nil {
			log.WithError(err).Fatal("failed to build pattern learner")
		}
		engine := guardian.NewDecisionEngine(policy, intent, pattern, audit, *permissive)
		srv = guardian.NewServer(*socketPath, engine)
	} else {
		srv, err = guardian.NewServerWithReload(*socketPath, *configPath, audit, *permissive)
		if err != nil {
			log.WithError(err).Fatal("failed to start config watcher")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.WithField("signal", s.String()).Info("shutting down")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("guardian server exited with error")
	}
}
