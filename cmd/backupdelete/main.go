// Command backupDelete deletes (or merges-then-deletes) one backup,
// per spec §6 "CLI — deletion".
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/christofchen/backuppc/pkg/collab"
	"github.com/christofchen/backuppc/pkg/config"
	"github.com/christofchen/backuppc/pkg/del"
	"github.com/christofchen/backuppc/pkg/engine"
	"github.com/christofchen/backuppc/pkg/hostdb"
	"github.com/christofchen/backuppc/pkg/hostlock"
	"github.com/christofchen/backuppc/pkg/metrics"
	"github.com/christofchen/backuppc/pkg/utils"
)

var logger = utils.GetLogger("backupdelete")

func main() {
	app := &cli.App{
		Name:  "backupDelete",
		Usage: "delete or merge-then-delete a backup",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Aliases: []string{"h"}, Required: true},
			&cli.IntFlag{Name: "num", Aliases: []string{"n"}, Required: true},
			&cli.BoolFlag{Name: "f", Usage: "override keep"},
			&cli.BoolFlag{Name: "l", Usage: "retain Xfer/Smb logs"},
			&cli.BoolFlag{Name: "L", Usage: "tee output to per-host log"},
			&cli.BoolFlag{Name: "m", Usage: "skip host mutex acquisition"},
			&cli.BoolFlag{Name: "p", Usage: "suppress progress output"},
			&cli.BoolFlag{Name: "r", Usage: "force final refcount reconciliation"},
			&cli.StringFlag{Name: "s", Usage: "scope to a share"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load("", "/etc/BackupPC", ".")
	if err != nil {
		return err
	}

	host := ctx.String("host")
	var out io.Writer = os.Stdout
	if ctx.Bool("L") {
		logPath := filepath.Join(cfg.LogDir, host+".log")
		tee, err := utils.NewTeeWriter(os.Stdout, logPath)
		if err == nil {
			defer tee.Close()
			out = tee
			utils.SetOutFile(logPath)
		}
	}

	pid := os.Getpid()
	fmt.Fprintf(out, "__bpc_pidStart__ %d\n", pid)
	defer fmt.Fprintf(out, "__bpc_pidEnd__ %d\n", pid)

	if !ctx.Bool("m") {
		lock := hostlock.New(filepath.Join(cfg.TopDir, "pc", host, ".hostLock"))
		got, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !got {
			return fmt.Errorf("host %s is locked by another operation", host)
		}
		defer lock.Unlock()
	}

	db, err := hostdb.Load(cfg.TopDir, host)
	if err != nil {
		return err
	}

	req := del.Request{
		TopDir:            cfg.TopDir,
		Host:              host,
		Num:               ctx.Int("num"),
		Share:             ctx.String("s"),
		Paths:             ctx.Args().Slice(),
		KeepOverride:      ctx.Bool("f"),
		RetainLogs:        ctx.Bool("l"),
		ForceRefCntUpdate: ctx.Bool("r"),
		RefCntFsck:        cfg.RefCntFsck,
	}

	st := &engine.State{}
	bundle := collab.NewDefaultBundle(cfg.TopDir)
	reg := metrics.New()

	progress := utils.NewProgress(ctx.Bool("p"), out)
	fileSpin := progress.AddCountSpinner("Files removed")

	fmt.Fprintln(out, "__bpc_progress_state__ deleting")
	result, err := del.Run(req, db, bundle, st)
	fileSpin.Done()
	progress.Done()
	fmt.Fprintf(out, "__bpc_progress_fileCnt__ %d\n", st.FileCnt)

	reg.Observe(st)
	if text, derr := reg.DumpText(); derr == nil {
		logger.Debugf("metrics:\n%s", text)
	}
	if err != nil {
		logger.Errorf("delete %s #%d: %s", host, req.Num, err)
		return cli.Exit("", 1)
	}
	if result.Merged {
		logger.Infof("merged backup #%d into predecessor #%d", req.Num, result.MergeCandidateNum)
	}
	if result.RefCountUpdateNeeded {
		logger.Infof("refcount reconciliation pending for host %s", host)
	}
	if st.Failed() {
		return cli.Exit("", 1)
	}
	return nil
}
