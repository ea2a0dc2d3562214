// Command mocd is the moc server process: it loads configuration,
// builds the decoder registry, output device, ring buffer, player
// loop, controller, and tag cache, then serves the control socket
// until told to quit. Grounded on the teacher's cmd/ entrypoint
// wiring style (flags via pflag, structured logging via
// charmbracelet/log).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/moc-go/moc/internal/config"
	"github.com/moc-go/moc/internal/controller"
	"github.com/moc-go/moc/internal/decoder"
	"github.com/moc-go/moc/internal/logging"
	"github.com/moc-go/moc/internal/output"
	"github.com/moc-go/moc/internal/playerloop"
	"github.com/moc-go/moc/internal/playlist"
	"github.com/moc-go/moc/internal/ring"
	"github.com/moc-go/moc/internal/server"
	"github.com/moc-go/moc/internal/tagcache"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to config.yaml")
		foreground = pflag.Bool("foreground", false, "log to stderr instead of a log file")
		debug      = pflag.Bool("debug", false, "verbose logging")
	)
	pflag.Parse()

	if err := run(*configPath, *foreground, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "mocd:", err)
		os.Exit(2) // spec.md §7: Config/Setup errors abort with exit 2
	}
}

func run(configPath string, foreground, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var logWriter *os.File
	if foreground {
		logWriter = os.Stderr
	} else {
		f, err := os.OpenFile(cfg.PidFile+".log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logWriter = f
		defer f.Close()
	}
	logger := logging.New(logWriter, debug)

	registry := decoder.NewRegistry(cfg.MimeSniff)
	for _, p := range []decoder.Plugin{
		decoder.NewMP3Plugin(),
		decoder.NewFLACPlugin(),
		decoder.NewOggPlugin(),
		decoder.NewWAVPlugin(),
		decoder.NewExternalPlugin("aac", "m4a", "wma", "opus", "ac3"),
	} {
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("registering decoder %s: %w", p.Name(), err)
		}
	}

	device, err := openPreferredDevice(cfg.SoundDriver)
	if err != nil {
		return err
	}

	buf := ring.New(cfg.OutputBufferSize, device)
	buf.Run()
	defer buf.Exit()

	loop := playerloop.New(registry, buf, device, cfg.ShowStreamErrors)

	store, err := tagcache.Open(cfg.CacheDir, cfg.CacheMaxRecords)
	if err != nil {
		return fmt.Errorf("opening tag cache: %w", err)
	}
	cache := tagcache.New(store, tagCacheSource{registry})

	plist := playlist.New()
	ctrlCfg := controller.Config{
		Shuffle:          cfg.Shuffle,
		Repeat:           cfg.Repeat,
		AutoNext:         cfg.AutoNext,
		ShowStreamErrors: cfg.ShowStreamErrors,
		Precache:         true,
	}
	ctrl := controller.New(plist, loop, ctrlCfg)

	srv := server.New(cfg, logger, registry, ctrl, cache)
	srv.SetRing(buf)

	logger.Info("mocd starting", "socket", cfg.SocketPath)
	return srv.Run()
}

// tagCacheSource adapts the decoder registry to tagcache.InfoSource.
type tagCacheSource struct{ registry *decoder.Registry }

func (s tagCacheSource) Info(path string, which decoder.TagKind) (decoder.Tags, error) {
	return s.registry.Info(path, which)
}

// openPreferredDevice returns the driver for the first configured name
// it recognises ("oto" or "null"), falling back to the null driver when
// none is recognised. Drivers are not probed or opened here.
func openPreferredDevice(names []string) (playerloop.Device, error) {
	for _, name := range names {
		switch name {
		case "oto":
			return output.NewOtoDriver(), nil
		case "null":
			return output.NewNullDriver(), nil
		}
	}
	return output.NewNullDriver(), nil
}
