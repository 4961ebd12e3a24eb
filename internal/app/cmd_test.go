package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"no args defaults to serve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"help", []string{"help"}, CommandHelp},
		{"short help flag", []string{"-h"}, CommandHelp},
		{"long help flag", []string{"--help"}, CommandHelp},
		{"unknown defaults to serve", []string{"unknown"}, CommandServe},
		{"extra args are ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestWriteUsage_ListsEveryCommand(t *testing.T) {
	var buf bytes.Buffer
	writeUsage(&buf)

	out := buf.String()
	for _, c := range commands {
		if !strings.Contains(out, string(c.cmd)) {
			t.Errorf("usage should mention %q:\n%s", c.cmd, out)
		}
	}
}

func TestRun_Help_SkipsInitialization(t *testing.T) {
	// 必須環境変数がなくてもhelpは成功する
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DISCORD_CLIENT_ID", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"help"}); err != nil {
		t.Fatalf("Run(help) returned error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "usage: icantchat") {
		t.Errorf("unexpected help output: %q", buf.String())
	}
}
