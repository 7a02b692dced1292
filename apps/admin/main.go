package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roxnlabs/mentora/core"
	"github.com/roxnlabs/mentora/core/user"
	emailsvc "github.com/roxnlabs/mentora/services/email"
	logsvc "github.com/roxnlabs/mentora/services/logger"
	"github.com/roxnlabs/mentora/services/secrets"
	"github.com/roxnlabs/mentora/storage/migrate"
	"github.com/roxnlabs/mentora/storage/mongodb"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewZap(conf, "admin"), conf)
	defer logger.Sync()

	// set up DB
	ctx, cancel := context.WithTimeout(context.Background(), conf.Mongo.ConnectTimeout)
	db, err := mongodb.Open(ctx, conf)
	cancel()
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to database: %v", err), err)
	}
	defer db.Close(context.Background())

	backups, releaseBackups := newBackupManager(context.Background(), conf, logger)
	defer releaseBackups()

	usrRepo := mongodb.NewUserRepository(db)
	cli := commandLine{
		usrSvc:  user.NewService(conf, usrRepo, emailsvc.NewConsoleService(conf, logger)),
		usrRepo: usrRepo,
		migrator: migrate.NewRunner(
			mongodb.NewMigrationStore(db), db, logger,
			conf.Migrations.Dir, migrate.DefaultSources(conf.Migrations.Dir)...,
		),
		backups: backups,
		out:     os.Stdout,
	}
	if vault, err := secrets.NewVault(conf, mongodb.NewSecretRepository(db)); err == nil {
		cli.vault = vault
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		releaseBackups()
		logger.Sync()
		os.Exit(1)
	}
}
