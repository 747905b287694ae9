package main

import (
	"fmt"
	"strings"

	"github.com/Harinder441/daily-notes-ai/internal/auth"
	"github.com/Harinder441/daily-notes-ai/internal/config"
	"github.com/Harinder441/daily-notes-ai/internal/database"
	"github.com/Harinder441/daily-notes-ai/internal/history"
	"github.com/Harinder441/daily-notes-ai/internal/localstore"
	"github.com/Harinder441/daily-notes-ai/internal/logging"
	"github.com/Harinder441/daily-notes-ai/internal/notes"
	"github.com/Harinder441/daily-notes-ai/internal/remote"
	"go.uber.org/zap"
)

// clientStack bundles what every sync-client command needs.
type clientStack struct {
	config  config.AppConfig
	logger  *zap.Logger
	userID  notes.UserID
	drafts  *localstore.DraftStore
	history *history.Log
	remote  *remote.Client
	close   func()
}

func openClientStack() (*clientStack, error) {
	appConfig, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := appConfig.ValidateClient(); err != nil {
		return nil, err
	}
	userID, err := clientUserID(appConfig)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenLocalStore(appConfig.LocalPath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	kv, err := localstore.NewSQLiteKV(db)
	if err != nil {
		_ = sqlDB.Close()
		_ = logger.Sync()
		return nil, err
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL: appConfig.RemoteURL,
		Token:   appConfig.RemoteToken,
		Logger:  logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		_ = logger.Sync()
		return nil, err
	}

	return &clientStack{
		config:  appConfig,
		logger:  logger,
		userID:  userID,
		drafts:  localstore.NewDraftStore(kv),
		history: history.NewLog(kv, appConfig.HistoryLimit),
		remote:  client,
		close: func() {
			_ = sqlDB.Close()
			_ = logger.Sync()
		},
	}, nil
}

// clientUserID takes the user from the session token the server scopes requests by. A
// configured user.id must agree with it.
func clientUserID(appConfig config.AppConfig) (notes.UserID, error) {
	subject, err := auth.SubjectFromToken(appConfig.RemoteToken)
	if err != nil {
		return "", fmt.Errorf("remote.token: %w", err)
	}
	configured := strings.TrimSpace(appConfig.UserID)
	if configured != "" && configured != subject {
		return "", fmt.Errorf("user.id %q does not match the session token user %q", configured, subject)
	}
	return notes.NewUserID(subject)
}
