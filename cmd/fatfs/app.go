package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/yimjisu/fatfs"
	"github.com/yimjisu/fatfs/internal/config"
	"github.com/zeebo/blake3"
)

// app holds the mounted image of one command run.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	hostFs afero.Fs
	stdout io.Writer

	image *fatfs.ImageDevice
	fs    *fatfs.FileSystem
	ctx   *fatfs.Context
}

func sortedCommands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *app) device(image *fatfs.ImageDevice) (fatfs.Device, error) {
	image.SyncWrites = a.cfg.SyncWrites
	a.image = image

	if a.cfg.CacheSectors > 0 {
		cache, err := fatfs.NewCachedDevice(image, a.cfg.CacheSectors)
		if err != nil {
			return nil, err
		}
		return cache, nil
	}
	return image, nil
}

// mount opens the configured image and creates a context at its root.
func (a *app) mount() error {
	image, err := fatfs.OpenImage(a.hostFs, a.cfg.Image)
	if err != nil {
		return err
	}

	dev, err := a.device(image)
	if err != nil {
		return err
	}

	a.fs, err = fatfs.Mount(dev,
		fatfs.WithLogger(a.log),
		fatfs.WithFormat(a.cfg.Format),
	)
	if err != nil {
		return err
	}

	a.ctx, err = a.fs.NewContext()
	return err
}

func (a *app) close() error {
	var err error
	if a.ctx != nil {
		err = a.ctx.Close()
	}
	if a.fs != nil {
		if uerr := a.fs.Unmount(); err == nil {
			err = uerr
		}
	}
	if a.image != nil {
		if cerr := a.image.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func pathArg(args []string, fallback string) (string, error) {
	switch len(args) {
	case 0:
		if fallback == "" {
			return "", errUsage
		}
		return fallback, nil
	case 1:
		return args[0], nil
	}
	return "", errUsage
}

func (a *app) format(args []string) error {
	if len(args) != 0 {
		return errUsage
	}

	image, err := fatfs.CreateImage(a.hostFs, a.cfg.Image, a.cfg.Sectors)
	if err != nil {
		return err
	}

	dev, err := a.device(image)
	if err != nil {
		return err
	}
	if err := fatfs.Format(dev, fatfs.WithLogger(a.log)); err != nil {
		return err
	}

	a.log.Info("Formatted image.",
		"image", a.cfg.Image,
		"size", humanize.IBytes(uint64(a.cfg.Sectors)*fatfs.SectorSize),
	)
	return nil
}

func (a *app) describe(name string, info os.FileInfo) string {
	line := fmt.Sprintf("%v %8s %s", info.Mode(), humanize.IBytes(uint64(info.Size())), info.Name())
	if info.Mode()&os.ModeSymlink != 0 {
		if target, err := a.ctx.Readlink(name); err == nil {
			line += " -> " + target
		}
	}
	return line
}

func (a *app) ls(args []string) error {
	name, err := pathArg(args, ".")
	if err != nil {
		return err
	}
	if err := a.mount(); err != nil {
		return err
	}

	dir, err := a.ctx.Open(name)
	if err != nil {
		return err
	}
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		fmt.Fprintln(a.stdout, a.describe(path.Join(name, info.Name()), info))
	}
	return nil
}

func (a *app) tree(args []string) error {
	root, err := pathArg(args, "/")
	if err != nil {
		return err
	}
	if err := a.mount(); err != nil {
		return err
	}

	return afero.Walk(a.ctx.Afero(), root, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s\t%s\n", name, humanize.IBytes(uint64(info.Size())))
		return nil
	})
}

func (a *app) stat(args []string) error {
	name, err := pathArg(args, "")
	if err != nil {
		return err
	}
	if err := a.mount(); err != nil {
		return err
	}

	info, err := a.ctx.Lstat(name)
	if err != nil {
		return err
	}

	stat := info.Sys().(fatfs.InodeStat)
	fmt.Fprintf(a.stdout, "%s\ninumber %d\n", a.describe(name, info), stat.Inumber)
	return nil
}

func (a *app) mkdir(args []string) error {
	flags := flag.NewFlagSet("mkdir", flag.ContinueOnError)
	parents := flags.Bool("p", false, "create missing parents")
	if err := flags.Parse(args); err != nil || flags.NArg() != 1 {
		return errUsage
	}
	if err := a.mount(); err != nil {
		return err
	}

	if *parents {
		return a.ctx.Afero().MkdirAll(flags.Arg(0), 0o755)
	}
	return a.ctx.CreateDir(flags.Arg(0))
}

func (a *app) put(args []string) error {
	if len(args) != 2 {
		return errUsage
	}

	src, err := a.hostFs.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	if err := a.mount(); err != nil {
		return err
	}
	return afero.WriteReader(a.ctx.Afero(), args[1], src)
}

func (a *app) cat(args []string) error {
	name, err := pathArg(args, "")
	if err != nil {
		return err
	}
	if err := a.mount(); err != nil {
		return err
	}

	file, err := a.ctx.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(a.stdout, file)
	return err
}

func (a *app) rm(args []string) error {
	flags := flag.NewFlagSet("rm", flag.ContinueOnError)
	recursive := flags.Bool("r", false, "remove directories and their contents")
	if err := flags.Parse(args); err != nil || flags.NArg() != 1 {
		return errUsage
	}
	if err := a.mount(); err != nil {
		return err
	}

	if *recursive {
		return a.ctx.Afero().RemoveAll(flags.Arg(0))
	}
	return a.ctx.Remove(flags.Arg(0))
}

func (a *app) ln(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if err := a.mount(); err != nil {
		return err
	}
	return a.ctx.Symlink(args[0], args[1])
}

func (a *app) mv(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if err := a.mount(); err != nil {
		return err
	}
	return a.ctx.Rename(args[0], args[1])
}

func (a *app) sum(args []string) error {
	name, err := pathArg(args, "")
	if err != nil {
		return err
	}
	if err := a.mount(); err != nil {
		return err
	}

	file, err := a.ctx.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "%s  %s\n", hex.EncodeToString(hasher.Sum(nil)), name)
	return nil
}

func (a *app) df(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := a.mount(); err != nil {
		return err
	}

	usage, err := a.fs.Usage()
	if err != nil {
		return err
	}

	size := uint64(usage.ClusterSize)
	fmt.Fprintf(a.stdout, "total %s, used %s, free %s (%d of %d clusters free)\n",
		humanize.IBytes(uint64(usage.TotalClusters)*size),
		humanize.IBytes(uint64(usage.TotalClusters-usage.FreeClusters)*size),
		humanize.IBytes(uint64(usage.FreeClusters)*size),
		usage.FreeClusters, usage.TotalClusters,
	)
	return nil
}

func (a *app) check(args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if err := a.mount(); err != nil {
		return err
	}

	report, err := a.fs.Check()
	if err != nil {
		return err
	}

	for _, problem := range report.Problems {
		fmt.Fprintln(a.stdout, problem)
	}
	fmt.Fprintf(a.stdout, "%d directories, %d files, %d symlinks, %d clusters used\n",
		report.Directories, report.Files, report.Symlinks, report.UsedClusters)

	if !report.OK() {
		return fmt.Errorf("%d problems found", len(report.Problems))
	}
	return nil
}
