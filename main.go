package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"hitme/config"
	"hitme/db"
	"hitme/server"
)

func main() {
	cfg, err := config.Load(os.Args[1:], config.Environ())
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hitme: %v\n", err)
		os.Exit(2)
	}

	log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hitme: %v\n", err)
		os.Exit(2)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Error("database_init_failed", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer database.Close()

	srv := server.New(database, &server.ServerConfig{
		Port:               cfg.Port,
		ReadTimeout:        time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.WriteTimeout) * time.Second,
		SweepInterval:      cfg.SweepInterval.D(),
		CountdownInterval:  cfg.CountdownInterval.D(),
		ExtendDuration:     cfg.ExtendDuration.D(),
		DefaultLiveMinutes: cfg.DefaultLiveMinutes,
		Modes:              cfg.Modes,
		Logger:             log,
	})

	exit := func(code int) {
		os.Remove(cfg.ControlSocket)
		database.Close()
		os.Exit(code)
	}

	// Start control socket for management commands
	os.Remove(cfg.ControlSocket)
	control, err := net.Listen("unix", cfg.ControlSocket)
	if err != nil {
		log.Warn("control_socket_failed", "path", cfg.ControlSocket, "err", err)
	} else {
		log.Info("control_socket_listening", "path", cfg.ControlSocket)
		go srv.ServeControl(control, func() { exit(0) })
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("signal_received", "signal", sig.String())
		srv.Shutdown("maintenance", time.Time{})
		exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.Error("server_failed", "err", err)
		exit(1)
	}
}
