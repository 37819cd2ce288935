package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/migrate"
	"github.com/angelmondragon/coursepay/pkg/migrate/migrations"
)

const usage = `usage: migrate [-dir path] <command> [arg]

commands:
  up               apply all pending migrations
  down             roll back the latest migration
  to <version>     migrate up or down to version
  status           list migrations and whether they ran
  check            verify file names and goose markers (no database)
  new <title>      write an empty migration into -dir (no database)
`

func main() {
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, arg := flag.Arg(0), flag.Arg(1)

	_ = godotenv.Load()

	var source fs.FS
	if *dir != "" {
		source = os.DirFS(*dir)
	}

	switch command {
	case "check":
		if source == nil {
			source = migrations.FS
		}
		exitOn(migrate.Check(source))
		fmt.Println("migrations ok")
		return
	case "new":
		if arg == "" {
			exitOn(fmt.Errorf("new needs a title"))
		}
		target := *dir
		if target == "" {
			target = migrate.SourceDir
		}
		path, err := migrate.NewFile(target, arg, time.Now())
		exitOn(err)
		fmt.Println(path)
		return
	}

	cfg, err := config.Load()
	exitOn(err)
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "command": command})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(err)
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	exitOn(err)

	runner, err := migrate.NewRunner(sqlDB, dbClient.Dialect(), source)
	exitOn(err)

	switch command {
	case "up":
		applied, err := runner.Up(ctx)
		exitOn(err)
		logg.Info(logg.WithField(ctx, "applied", applied), "schema up to date")
	case "down":
		exitOn(runner.Down(ctx))
		logg.Info(ctx, "rolled back one migration")
	case "to":
		version, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			exitOn(fmt.Errorf("to needs a numeric version, got %q", arg))
		}
		moved, err := runner.To(ctx, version)
		exitOn(err)
		logg.Info(logg.WithFields(ctx, map[string]any{"version": version, "moved": moved}), "schema at target version")
	case "status":
		statuses, err := runner.Status(ctx)
		exitOn(err)
		printStatus(statuses)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printStatus(statuses []migrate.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "pending"
		if st.Applied {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", st.Version, applied, st.Path)
	}
	_ = w.Flush()
}

func exitOn(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "migrate:", err)
	os.Exit(1)
}
