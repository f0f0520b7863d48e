// hexmap：H3 单元到区域查找产物的构建与查询工具
//
// 子命令：
//
//	generate <out> <sets...>                         由 gzip 二进制单元集合构建
//	gen-world [--resolution R] [--workers N] <out> <geojson>  由 GeoJSON 要素集合构建
//	gen-pg [--table T] [--ensure-schema] <out>       由 PostgreSQL 表构建
//	lookup [--mmap] <map> <hex-cell>                 查询单元
//	lookup-ip [--mmdb P] [--resolution R] <map> <ip> 按 IP 定位后查询
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"hexmap/internal/artifact"
	"hexmap/internal/build"
	"hexmap/internal/cell"
	"hexmap/internal/config"
	"hexmap/internal/geoip"
	"hexmap/internal/logger"
	"hexmap/internal/migrate"
	"hexmap/internal/source"
	"hexmap/internal/utils"
	"hexmap/internal/version"
)

const usage = `usage: hexmap <command> [flags] [args]

commands:
  generate <out> <sets...>
  gen-world [--resolution R] [--workers N] <out> <world.geojson>
  gen-pg [--table T] [--ensure-schema] <out>
  lookup [--mmap] <map> <hex-cell-id>
  lookup-ip [--mmdb P] [--resolution R] [--mmap] <map> <ip>
  --version
`

// errUsage：参数个数或格式错误
var errUsage = errors.New("bad arguments")

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	logger.Setup()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// 文档注释：命令分发
// 返回：进程退出码；失败时在标准错误输出一行 "error: ..."，同时记录 command_error 日志。
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "--version", "version":
		fmt.Fprintln(stdout, version.String())
		return 0
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	}
	cfg, err := config.Load()
	if err != nil {
		return fail(stderr, args[0], err)
	}
	var cmd func(context.Context, config.Config, []string, io.Writer, io.Writer) error
	switch args[0] {
	case "generate":
		cmd = cmdGenerate
	case "gen-world":
		cmd = cmdGenWorld
	case "gen-pg":
		cmd = cmdGenPG
	case "lookup":
		cmd = cmdLookup
	case "lookup-ip":
		cmd = cmdLookupIP
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n", args[0])
		fmt.Fprint(stderr, usage)
		return 2
	}
	if err := cmd(ctx, cfg, args[1:], stdout, stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return fail(stderr, args[0], err)
	}
	return 0
}

func fail(stderr io.Writer, cmd string, err error) int {
	logger.L().Error("command_error", "cmd", cmd, "err", err)
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printSummary(w io.Writer, out string, s build.Summary) {
	fmt.Fprintf(w, "wrote %s: %d sources, %d cells, %d bytes, blake3 %s\n", out, s.Sources, s.Cells, s.Bytes, s.Digest)
}

func cmdGenerate(_ context.Context, _ config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("generate", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("%w: generate needs <out> and at least one set", errUsage)
	}
	out := fs.Arg(0)
	sum, err := build.Generate(out, fs.Args()[1:])
	if err != nil {
		return err
	}
	printSummary(stdout, out, sum)
	return nil
}

func cmdGenWorld(_ context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("gen-world", stderr)
	res := fs.IntP("resolution", "r", cfg.Resolution, "rasterization resolution (0-15)")
	workers := fs.IntP("workers", "w", cfg.Workers, "rasterization workers (0 = number of CPUs)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: gen-world needs <out> <world.geojson>", errUsage)
	}
	if err := config.ValidateResolution(*res); err != nil {
		return err
	}
	out := fs.Arg(0)
	sum, err := build.GenerateWorld(out, fs.Arg(1), build.WorldOptions{Resolution: *res, Workers: *workers})
	if err != nil {
		return err
	}
	printSummary(stdout, out, sum)
	return nil
}

func cmdGenPG(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("gen-pg", stderr)
	table := fs.StringP("table", "t", cfg.PGTable, "source table with (region, cell) columns")
	ensure := fs.Bool("ensure-schema", false, "create the source table if it does not exist")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: gen-pg needs <out>", errUsage)
	}
	if err := source.ValidTableName(*table); err != nil {
		return err
	}
	db, err := utils.OpenPostgresFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()
	if *ensure {
		if err := migrate.EnsureSchema(ctx, db, *table); err != nil {
			return err
		}
	}
	srcs, err := source.LoadPostgres(ctx, db, *table)
	if err != nil {
		return err
	}
	out := fs.Arg(0)
	sum, err := build.GenerateSources(out, "postgres", srcs)
	if err != nil {
		return err
	}
	printSummary(stdout, out, sum)
	return nil
}

func printHit(w io.Writer, hit artifact.Hit, found bool) {
	if !found {
		fmt.Fprintln(w, "no entry")
		return
	}
	fmt.Fprintln(w, hit.Value)
}

func cmdLookup(_ context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("lookup", stderr)
	mmap := fs.Bool("mmap", cfg.Mmap, "memory-map the artifact")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: lookup needs <map> <hex-cell-id>", errUsage)
	}
	c, err := cell.Parse(fs.Arg(1))
	if err != nil {
		return err
	}
	m, err := artifact.Open(fs.Arg(0), artifact.Options{Mmap: *mmap})
	if err != nil {
		return err
	}
	defer m.Close()
	hit, found, err := m.Lookup(c)
	if err != nil {
		return err
	}
	logger.L().Debug("lookup_done", "cell", c.String(), "found", found, "matched", hit.Cell.String())
	printHit(stdout, hit, found)
	return nil
}

func cmdLookupIP(_ context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("lookup-ip", stderr)
	mmdb := fs.String("mmdb", cfg.MMDBPath, "MaxMind City database")
	res := fs.IntP("resolution", "r", cfg.Resolution, "cell resolution for the located point")
	mmap := fs.Bool("mmap", cfg.Mmap, "memory-map the artifact")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: lookup-ip needs <map> <ip>", errUsage)
	}
	if *mmdb == "" {
		return fmt.Errorf("%w: --mmdb or GEOIP_MMDB_PATH is required", errUsage)
	}
	if err := config.ValidateResolution(*res); err != nil {
		return err
	}
	ip, err := geoip.ParseIP(fs.Arg(1))
	if err != nil {
		return err
	}
	m, err := artifact.Open(fs.Arg(0), artifact.Options{Mmap: *mmap})
	if err != nil {
		return err
	}
	defer m.Close()
	gr, err := geoip.Open(*mmdb)
	if err != nil {
		return err
	}
	defer gr.Close()
	c, loc, err := geoip.CellFor(gr, ip, *res)
	if errors.Is(err, geoip.ErrNoLocation) {
		fmt.Fprintln(stdout, "no entry")
		return nil
	}
	if err != nil {
		return err
	}
	hit, found, err := m.Lookup(c)
	if err != nil {
		return err
	}
	logger.L().Debug("lookup_ip_done", "ip", ip.String(), "lat", loc.Lat, "lng", loc.Lng, "network", loc.Network.String(), "cell", c.String(), "found", found)
	printHit(stdout, hit, found)
	return nil
}
