package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/hatua/apps/api/echo"
	"github.com/trezcool/hatua/core"
	"github.com/trezcool/hatua/core/activity"
	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/submission"
	"github.com/trezcool/hatua/core/user"
	emailsvc "github.com/trezcool/hatua/services/email"
	logsvc "github.com/trezcool/hatua/services/logger"
	storagesvc "github.com/trezcool/hatua/services/storage"
	"github.com/trezcool/hatua/storage/database"
	sqlxrepos "github.com/trezcool/hatua/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Close()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger, conf)
	}

	var objStore core.ObjectStore
	if conf.Debug {
		objStore = storagesvc.NewInMemObjectStore()
	} else {
		if objStore, err = storagesvc.NewS3ObjectStore(context.Background(), conf.ObjectStore); err != nil {
			logger.Fatal(fmt.Sprintf("setting up object store: %v", err), err)
		}
	}

	clock := core.NewClock()

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, clock, conf)
	phaseSvc := phase.NewService(sqlxrepos.NewPhaseRepository(db), clock)
	activitySvc := activity.NewService(
		sqlxrepos.NewActivityRepository(db),
		sqlxrepos.NewActivityLogRepository(db),
		usrSvc,
		clock,
		logger,
		conf,
	)
	sessions := echoapi.NewSessionManager(activitySvc, usrSvc, clock, logger, conf)
	submissionSvc := submission.NewService(
		sqlxrepos.NewSubmissionRepository(db),
		sqlxrepos.NewSubmissionHistoryRepository(db),
		sessions,
		objStore,
		activitySvc,
		mailSvc,
		clock,
		logger,
		conf,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err = http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			UserSvc:       usrSvc,
			PhaseSvc:      phaseSvc,
			ActivitySvc:   activitySvc,
			SubmissionSvc: submissionSvc,
			Sessions:      sessions,
			Clock:         clock,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, conf.Database.Engine), nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
