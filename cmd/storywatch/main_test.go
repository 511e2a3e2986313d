package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadProvisionInput(t *testing.T) {
	provisionFile = ""
	got, err := readProvisionInput(strings.NewReader(`{"cookies":[]}`))
	if err != nil || string(got) != `{"cookies":[]}` {
		t.Fatalf("stdin: %q %v", got, err)
	}
	if _, err := readProvisionInput(strings.NewReader("")); err == nil {
		t.Error("empty stdin accepted")
	}

	p := filepath.Join(t.TempDir(), "s.json")
	os.WriteFile(p, []byte("doc"), 0o600)
	provisionFile = p
	defer func() { provisionFile = "" }()
	got, err = readProvisionInput(strings.NewReader("ignored"))
	if err != nil || string(got) != "doc" {
		t.Fatalf("file: %q %v", got, err)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "check": false, "provision": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %s not registered", name)
		}
	}
}
