package ptyio

import (
	"os/exec"
	"testing"
)

func TestShellAllocatesMasterAndRunsCommand(t *testing.T) {
	cmd := exec.Command("true")
	master, err := Shell(cmd, 24, 80)
	if err != nil {
		t.Fatalf("Shell: %v", err)
	}
	t.Cleanup(func() { master.Close() })

	if err := cmd.Wait(); err != nil {
		t.Fatalf("child process exited with error: %v", err)
	}
}

func TestResizeRejectsClosedMaster(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	master, err := Shell(cmd, 24, 80)
	if err != nil {
		t.Fatalf("Shell: %v", err)
	}
	master.Close()
	_ = cmd.Process.Kill()

	if err := Resize(master, 30, 100); err == nil {
		t.Fatal("expected Resize on a closed master to fail")
	}
}
