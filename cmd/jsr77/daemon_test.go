package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"
)

func TestPidFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "jsr77.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}
	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file content %q", b)
	}
	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("PID file was not removed")
	}
	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removing a missing pid file should succeed: %v", err)
	}
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty pid file: %v", err)
	}
}

func TestDaemonArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		pidFile string
		logFile string
		want    []string
	}{
		{
			name: "strips daemonize",
			args: []string{"serve", "--daemonize", "--config", "a.toml"},
			want: []string{"serve", "--config", "a.toml"},
		},
		{
			name:    "re-adds files",
			args:    []string{"serve", "--daemonize", "--pidfile", "old.pid", "--logfile=old.log"},
			pidFile: "/run/jsr77.pid",
			logFile: "/var/log/jsr77.log",
			want:    []string{"serve", "--pidfile", "/run/jsr77.pid", "--logfile", "/var/log/jsr77.log"},
		},
		{
			name: "equals form",
			args: []string{"serve", "--daemonize=true", "--pidfile=x.pid"},
			want: []string{"serve"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := daemonArgs(tt.args, tt.pidFile, tt.logFile)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("daemonArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}
