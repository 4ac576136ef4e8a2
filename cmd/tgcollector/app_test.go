package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tgcollector/internal/config"
)

func newFlagCmd(t *testing.T, args ...string) (*cobra.Command, *runFlags) {
	t.Helper()
	var f runFlags
	cmd := &cobra.Command{Use: "test"}
	addRunFlags(cmd, &f)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd, &f
}

func withEnvFile(t *testing.T) {
	t.Helper()
	old := envFile
	envFile = filepath.Join(t.TempDir(), "absent.env")
	t.Cleanup(func() { envFile = old })
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	withEnvFile(t)
	t.Setenv("TGC_CHANNELS", "freeconf,v2ray_daily")
	t.Setenv("TGC_MAX_CHANNELS", "9")
	t.Setenv("TGC_DELAY", "5s")

	cmd, f := newFlagCmd(t, "--max-chats=3", "--delay=1500ms", "--debug", "--cache-file=/tmp/sel.json")
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.MaxChannels != 3 {
		t.Errorf("MaxChannels = %d, want 3", cfg.MaxChannels)
	}
	if cfg.Delay != 1500*time.Millisecond {
		t.Errorf("Delay = %s, want 1.5s", cfg.Delay)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.CachePath != "/tmp/sel.json" {
		t.Errorf("CachePath = %q", cfg.CachePath)
	}
}

func TestLoadConfig_UnsetFlagsKeepEnv(t *testing.T) {
	withEnvFile(t)
	t.Setenv("TGC_CHANNELS", "freeconf")
	t.Setenv("TGC_MAX_CHANNELS", "9")

	cmd, f := newFlagCmd(t)
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxChannels != 9 {
		t.Errorf("MaxChannels = %d, want env value 9", cfg.MaxChannels)
	}
}

func TestLoadConfig_ChatSuppliesChannel(t *testing.T) {
	withEnvFile(t)
	t.Setenv("TGC_CHANNELS", "")
	t.Setenv("TGC_CHANNELS_FILE", "")

	cmd, f := newFlagCmd(t, "--chat=@freeconf")
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0] != "@freeconf" {
		t.Errorf("Channels = %v", cfg.Channels)
	}
}

func TestLoadConfig_MissingChannelsIsInvalid(t *testing.T) {
	withEnvFile(t)
	t.Setenv("TGC_CHANNELS", "")
	t.Setenv("TGC_CHANNELS_FILE", "")

	cmd, f := newFlagCmd(t)
	_, err := loadConfig(cmd, f)
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}
