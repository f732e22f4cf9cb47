package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"hwkernel/internal/config"
	"hwkernel/internal/kernel"
	"hwkernel/internal/kernelerr"
	"hwkernel/internal/wire"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// protocolVersion is bumped whenever the op/args shape in dispatch
// changes incompatibly.
const protocolVersion = "hwkerneld/1"

type serveCmd struct {
	socketPath string
	lockPath   string
	configPath string
	verbose    bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the control-socket daemon" }
func (*serveCmd) Usage() string {
	return "serve [-socket path] [-lock path] [-config path] [-verbose]\n"
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.socketPath, "socket", "/run/hwkerneld.sock", "control socket `path`")
	f.StringVar(&c.lockPath, "lock", "/run/hwkerneld.lock", "single-instance lock file `path`")
	f.StringVar(&c.configPath, "config", "", "optional YAML config overriding core tunables")
	f.BoolVar(&c.verbose, "verbose", false, "enable debug logging")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	level := logrus.InfoLevel
	if c.verbose {
		level = logrus.DebugLevel
	}
	log := kernel.NewLogger(level)

	fl := flock.New(c.lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		log.WithError(err).Error("acquiring single-instance lock")
		return subcommands.ExitFailure
	}
	if !locked {
		log.Errorf("another hwkerneld already holds %s", c.lockPath)
		return subcommands.ExitFailure
	}
	defer fl.Unlock()

	dropCapabilities(log)

	cfg := config.Default()
	if c.configPath != "" {
		cfg, err = config.Load(c.configPath)
		if err != nil {
			log.WithError(err).Error("loading config")
			return subcommands.ExitFailure
		}
	}

	if err := os.Remove(c.socketPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("removing stale socket")
	}
	ln, err := net.Listen("unix", c.socketPath)
	if err != nil {
		log.WithError(err).Error("listening on control socket")
		return subcommands.ExitFailure
	}
	defer ln.Close()
	if err := os.Chmod(c.socketPath, 0o660); err != nil {
		log.WithError(err).Warn("chmod control socket")
	}

	k := kernel.NewKernel(cfg, log)
	k.Start(ctx)
	defer k.Stop()

	d := newDispatcher(k)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		ln.Close()
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Debug("sd_notify READY failed")
	} else if ok {
		log.Debug("sd_notify READY delivered")
	}

	log.Infof("listening on %s", c.socketPath)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return subcommands.ExitSuccess
			}
			log.WithError(err).Error("accept")
			return subcommands.ExitFailure
		}
		go d.serveConn(conn, log)
	}
}

// dropCapabilities strips every Linux capability this process doesn't
// need before the control socket is bound: the daemon only ever
// simulates kernel objects in-process, so it needs none of them. A
// no-op on non-Linux platforms (see caps_other.go) and on non-root
// invocations, where there is nothing to drop.
func dropCapabilities(log *logrus.Entry) {
	if err := dropAllCapabilities(); err != nil {
		log.WithError(err).Debug("dropping capabilities (continuing unprivileged)")
	}
}

// dispatcher maps wire.Request ops onto kernel syscalls, attributing
// every call to a single core-privileged "driver" thread created at
// startup -- the control protocol speaks for one external driver
// process, so it needs exactly one caller identity, not one per
// connection.
type dispatcher struct {
	k      *kernel.Kernel
	caller *kernel.Thread
}

func newDispatcher(k *kernel.Kernel) *dispatcher {
	core := k.CorePd()
	h, err := k.NewThread(nil, "driver", kernel.Priority(config.PrioMax), 0, core.Handle(), true)
	if err != nil {
		panic(fmt.Sprintf("hwkerneld: bootstrap driver thread: %v", err))
	}
	if err := k.StartThread(nil, h, 0); err != nil {
		panic(fmt.Sprintf("hwkerneld: start driver thread: %v", err))
	}
	caller, err := k.ThreadByHandle(h)
	if err != nil {
		panic(fmt.Sprintf("hwkerneld: resolve driver thread: %v", err))
	}
	return &dispatcher{k: k, caller: caller}
}

func (d *dispatcher) serveConn(conn net.Conn, log *logrus.Entry) {
	defer conn.Close()
	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			return
		}
		resp := d.handle(req)
		if err := wire.WriteResponse(conn, resp); err != nil {
			log.WithError(err).Debug("writing response")
			return
		}
	}
}

func (d *dispatcher) handle(req wire.Request) wire.Response {
	result, err := d.dispatch(req)
	if err != nil {
		return wire.Response{OK: false, Error: err.Error()}
	}
	return wire.Response{OK: true, Result: result}
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argUint32(args map[string]any, key string) uint32 {
	f, _ := args[key].(float64)
	return uint32(f)
}

func argHandle(args map[string]any, key string) kernel.Handle {
	f, _ := args[key].(float64)
	idx := uint32(f)
	kindF, _ := args[key+"_kind"].(float64)
	genF, _ := args[key+"_gen"].(float64)
	return kernel.Handle{Kind: kernel.Kind(uint8(kindF)), Index: idx, Gen: uint32(genF)}
}

func handleResult(h kernel.Handle) map[string]any {
	return map[string]any{
		"handle":      float64(h.Index),
		"handle_kind": float64(h.Kind),
		"handle_gen":  float64(h.Gen),
	}
}

func (d *dispatcher) dispatch(req wire.Request) (map[string]any, error) {
	switch req.Op {
	case "new_pd":
		h, err := d.k.NewPD(d.caller, argString(req.Args, "label"), 0, argUint32(req.Args, "donation_bytes"))
		if err != nil {
			return nil, err
		}
		return handleResult(h), nil

	case "delete_pd":
		return nil, d.k.DeletePD(d.caller, argHandle(req.Args, "pd"))

	case "update_pd":
		return nil, d.k.UpdatePD(d.caller, argHandle(req.Args, "pd"))

	case "new_thread":
		h, err := d.k.NewThread(d.caller, argString(req.Args, "label"),
			kernel.Priority(argUint32(req.Args, "priority")), argUint32(req.Args, "quota_us"),
			argHandle(req.Args, "pd"), false)
		if err != nil {
			return nil, err
		}
		return handleResult(h), nil

	case "start_thread":
		cpu := int(argUint32(req.Args, "cpu"))
		return nil, d.k.StartThread(d.caller, argHandle(req.Args, "thread"), cpu)

	case "delete_thread":
		return nil, d.k.DeleteThread(d.caller, argHandle(req.Args, "thread"))

	case "pause_thread":
		return nil, d.k.PauseThread(d.caller, argHandle(req.Args, "thread"))

	case "resume_thread":
		return nil, d.k.ResumeThread(d.caller, argHandle(req.Args, "thread"))

	case "ping":
		return map[string]any{"pong": true}, nil

	default:
		return nil, fmt.Errorf("%w: unknown op %q", kernelerr.InvalidArg, req.Op)
	}
}
