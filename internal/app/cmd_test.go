package app

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{nil, CommandServe},
		{[]string{}, CommandServe},
		{[]string{"serve"}, CommandServe},
		{[]string{"worker"}, CommandWorker},
		{[]string{"refresh"}, CommandRefresh},
		{[]string{"subscribe", "https://example.com/feed"}, CommandSubscribe},
		{[]string{"migrate"}, CommandMigrate},
		{[]string{"healthcheck"}, CommandHealthcheck},
		{[]string{"unknown"}, CommandServe},
		{[]string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{nil, nil},
		{[]string{"subscribe"}, nil},
		{[]string{"subscribe", "https://example.com/feed", "week"}, []string{"https://example.com/feed", "week"}},
	}

	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, commandArgs(tt.args)); diff != "" {
			t.Errorf("commandArgs(%v) mismatch (-want +got):\n%s", tt.args, diff)
		}
	}
}
