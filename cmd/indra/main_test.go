package main

import "testing"

func TestPrintControlReplyMapsExitCodes(t *testing.T) {
	cases := []struct {
		reply string
		want  int
	}{
		{"OK", 0},
		{"OK some-blob", 0},
		{"ERR denied channel is full", 3},
		{"ERR not_found no such channel", 3},
		{"ERR transient dial failed", 4},
		{"ERR busy retry later", 4},
		{"ERR timeout no response", 4},
		{"ERR fatal unrecoverable", 4},
		{"ERR protocol bad frame", 4},
		{"garbage", 4},
	}
	for _, c := range cases {
		if got := printControlReply(c.reply); got != c.want {
			t.Errorf("printControlReply(%q) = %d, want %d", c.reply, got, c.want)
		}
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if code := run([]string{"bogus"}); code != 2 {
		t.Errorf("run([bogus]) = %d, want 2", code)
	}
}

func TestRunWithNoArgsPrintsUsage(t *testing.T) {
	if code := run(nil); code != 2 {
		t.Errorf("run(nil) = %d, want 2", code)
	}
}

func TestRunHelpSucceeds(t *testing.T) {
	if code := run([]string{"help"}); code != 0 {
		t.Errorf("run([help]) = %d, want 0", code)
	}
}

func TestRunStatusRequiresDataDir(t *testing.T) {
	if code := run([]string{"status"}); code != 2 {
		t.Errorf("run([status]) = %d, want 2", code)
	}
}

func TestRunInviteRequiresChannelArgument(t *testing.T) {
	if code := run([]string{"invite", "--data-dir", t.TempDir()}); code != 2 {
		t.Errorf("run([invite --data-dir ...]) = %d, want 2", code)
	}
}

func TestRunSendRequiresTwoArguments(t *testing.T) {
	if code := run([]string{"send", "--data-dir", t.TempDir(), "only-one"}); code != 2 {
		t.Errorf("run([send --data-dir ... only-one]) = %d, want 2", code)
	}
}
