package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger_DefaultLevel(t *testing.T) {
	t.Setenv("PEDIDOS_LOG_LEVEL", "")
	setupLogger()

	if log.GetLevel() != log.InfoLevel {
		t.Errorf("expected info level by default, got %s", log.GetLevel())
	}
}

func TestSetupLogger_EnvOverride(t *testing.T) {
	t.Setenv("PEDIDOS_LOG_LEVEL", "debug")
	setupLogger()
	defer log.SetLevel(log.InfoLevel)

	if log.GetLevel() != log.DebugLevel {
		t.Errorf("expected debug level, got %s", log.GetLevel())
	}
}

func TestSetupLogger_InvalidLevelKeepsDefault(t *testing.T) {
	t.Setenv("PEDIDOS_LOG_LEVEL", "chatty")
	setupLogger()

	if log.GetLevel() != log.InfoLevel {
		t.Errorf("invalid level must keep info, got %s", log.GetLevel())
	}
}
