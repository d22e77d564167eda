package cmd

import (
	"testing"

	"github.com/matjam/hwcsession/internal/hal"
	"github.com/spf13/viper"
)

func TestOnOff(t *testing.T) {
	if v, err := onOff("connect", "connect", "disconnect"); err != nil || !v {
		t.Fatalf("connect: %v %v", v, err)
	}
	if v, err := onOff("off", "on", "off"); err != nil || v {
		t.Fatalf("off: %v %v", v, err)
	}
	if _, err := onOff("maybe", "on", "off"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDisplayArg(t *testing.T) {
	viper.Set("display_id", 3)
	t.Cleanup(viper.Reset)

	cmd := NewPowerCmd()
	if got := displayArg(cmd); got != hal.DisplayID(3) {
		t.Fatalf("default display %d, want 3", got)
	}
	if err := cmd.Flags().Set("display", "1"); err != nil {
		t.Fatal(err)
	}
	if got := displayArg(cmd); got != hal.DisplayID(1) {
		t.Fatalf("flag display %d, want 1", got)
	}
}
