// Command migrateV3toV4 converts one host's (or every host's) V3
// backups into the V4 layout, per spec §6 "CLI — migration".
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/christofchen/backuppc/pkg/collab"
	"github.com/christofchen/backuppc/pkg/config"
	"github.com/christofchen/backuppc/pkg/engine"
	"github.com/christofchen/backuppc/pkg/hostdb"
	"github.com/christofchen/backuppc/pkg/hostlock"
	"github.com/christofchen/backuppc/pkg/migrate"
	"github.com/christofchen/backuppc/pkg/utils"
)

var logger = utils.GetLogger("migrate")

func main() {
	app := &cli.App{
		Name:  "migrateV3toV4",
		Usage: "convert legacy V3 backups into the V4 layout",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "a", Usage: "migrate every host"},
			&cli.StringFlag{Name: "h", Usage: "host to migrate"},
			&cli.IntFlag{Name: "n", Usage: "single backup number"},
			&cli.BoolFlag{Name: "m", Usage: "dry run: announce only"},
			&cli.BoolFlag{Name: "p", Usage: "suppress progress output"},
			&cli.BoolFlag{Name: "v", Usage: "raise log level"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if ctx.Bool("v") {
		utils.SetLogLevel(logrus.DebugLevel)
	}
	if !ctx.Bool("a") && ctx.String("h") == "" {
		return fmt.Errorf("either -a or -h HOST is required")
	}

	cfg, err := config.Load("", "/etc/BackupPC", ".")
	if err != nil {
		return err
	}
	bundle := collab.NewDefaultBundle(cfg.TopDir)
	probe := hostlock.DialProbe(cfg.ServerHost, cfg.ServerPort, 2*time.Second)

	hosts := []string{ctx.String("h")}
	if ctx.Bool("a") {
		hosts, err = allHosts(cfg.TopDir)
		if err != nil {
			return err
		}
	}

	progress := utils.NewProgress(ctx.Bool("p"), os.Stdout)
	hostSpin := progress.AddCountSpinner("Hosts scanned")

	st := &engine.State{}
	failed := false
	for _, host := range hosts {
		hostSpin.Increment()
		db, err := hostdb.Load(cfg.TopDir, host)
		if err != nil {
			logger.Errorf("load backup list for %s: %s", host, err)
			failed = true
			continue
		}

		nums := db.V3Nums()
		if ctx.IsSet("n") {
			nums = []int{ctx.Int("n")}
		}
		for _, num := range nums {
			req := migrate.Request{TopDir: cfg.TopDir, Host: host, Num: num, DryRun: ctx.Bool("m")}
			res, err := migrate.Run(req, db, bundle, probe, st)
			if err != nil {
				logger.Errorf("migrate %s #%d: %s", host, num, err)
				failed = true
				continue
			}
			if res.Skipped {
				logger.Infof("%s #%d already V4, skipping", host, num)
			} else if !ctx.Bool("m") {
				logger.Infof("%s #%d migrated", host, num)
			}
		}
	}
	progress.Done()

	if failed || st.Failed() {
		return cli.Exit("", 1)
	}
	return nil
}

func allHosts(topDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(topDir, "pc"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var hosts []string
	for _, e := range entries {
		if e.IsDir() {
			hosts = append(hosts, e.Name())
		}
	}
	return hosts, nil
}
