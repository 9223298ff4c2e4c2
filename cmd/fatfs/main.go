// Command fatfs works with fatfs disk images from the host.
//
//	fatfs [-config file] [-image path] [-v] <command> [arguments]
//
// Settings are read from the dotenv file given with -config (or ./.env if it
// exists) and the FATFS_* environment variables, see internal/config.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/afero"
	"github.com/yimjisu/fatfs/internal/config"
)

const defaultEnvFile = ".env"

type command struct {
	usage string
	run   func(app *app, args []string) error
}

var commands = map[string]command{
	"format": {"format", (*app).format},
	"ls":     {"ls [path]", (*app).ls},
	"tree":   {"tree [path]", (*app).tree},
	"stat":   {"stat path", (*app).stat},
	"mkdir":  {"mkdir [-p] path", (*app).mkdir},
	"put":    {"put host-file path", (*app).put},
	"cat":    {"cat path", (*app).cat},
	"rm":     {"rm [-r] path", (*app).rm},
	"ln":     {"ln target link", (*app).ln},
	"mv":     {"mv old new", (*app).mv},
	"sum":    {"sum path", (*app).sum},
	"df":     {"df", (*app).df},
	"check":  {"check", (*app).check},
}

var errUsage = errors.New("usage")

func setupLogging(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}),
	)
}

func usage(flags *flag.FlagSet) {
	out := flags.Output()
	fmt.Fprintf(out, "usage: fatfs [flags] <command> [arguments]\n\ncommands:\n")
	for _, name := range sortedCommands() {
		fmt.Fprintf(out, "  %s\n", commands[name].usage)
	}
	fmt.Fprintf(out, "\nflags:\n")
	flags.PrintDefaults()
}

func loadConfig(path string) (config.Config, error) {
	var files []string
	switch {
	case path != "":
		files = append(files, path)
	default:
		if _, err := os.Stat(defaultEnvFile); err == nil {
			files = append(files, defaultEnvFile)
		}
	}

	return config.Load(&config.GodotenvProvider{}, os.LookupEnv, files...)
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("fatfs", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "", "dotenv file with FATFS_* settings")
	image := flags.String("image", "", "disk image, overrides FATFS_IMAGE")
	verbose := flags.Bool("v", false, "log debug messages")
	flags.Usage = func() { usage(flags) }

	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *image != "" {
		cfg.Image = *image
	}
	if *verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	logger := setupLogging(stderr, cfg.LogLevel)

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return 2
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		flags.Usage()
		return 2
	}

	a := &app{
		cfg:    cfg,
		log:    logger,
		hostFs: afero.NewOsFs(),
		stdout: stdout,
	}

	err = cmd.run(a, rest[1:])
	if closeErr := a.close(); err == nil {
		err = closeErr
	}

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "usage: fatfs %s\n", cmd.usage)
		return 2
	case err != nil:
		logger.Error("Command failed.",
			"command", rest[0],
			"err", err,
		)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
