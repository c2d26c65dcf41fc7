package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand_Help(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{})

	_ = rootCmd.Execute()

	output := buf.String()
	if !strings.Contains(output, "portgate") {
		t.Errorf("help output should contain 'portgate', got: %s", output)
	}
	if !strings.Contains(output, "port mapping") {
		t.Errorf("help output should contain 'port mapping', got: %s", output)
	}
}

func TestRootCommand_Version(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-01-01")

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})

	_ = rootCmd.Execute()

	output := buf.String()
	if !strings.Contains(output, "1.2.3") {
		t.Errorf("version output should contain '1.2.3', got: %s", output)
	}
	if !strings.Contains(output, "abc123") {
		t.Errorf("version output should contain 'abc123', got: %s", output)
	}
}

func TestRootCommand_ListsSubcommands(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})

	_ = rootCmd.Execute()

	output := buf.String()
	for _, sub := range []string{"forward", "gateway-ip", "host-ip", "public-ip"} {
		if !strings.Contains(output, sub) {
			t.Errorf("help output should list %q, got: %s", sub, output)
		}
	}
}
