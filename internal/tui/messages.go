package tui

import (
	"mailmint/internal/model"
	"mailmint/internal/store"
)

// Async message types for Bubble Tea commands.

type dataLoadedMsg struct {
	txns    []model.Transaction
	misses  []model.ParseMiss
	lastRun *store.Run
	err     error
}

type bodyLoadedMsg struct {
	messageID string
	body      string
	err       error
}

type openResultMsg struct {
	err error
}

type statusMsg string
