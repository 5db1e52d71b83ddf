package main

import "time"

// GlobalFlags holds the persistent flags of the root command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select and shape the connection to a running server.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	Output     string
}

// ObjectFlags name a managed object and what to do with it.
type ObjectFlags struct {
	APIFlags
	Name      string
	Category  string
	Attribute string
	Value     string
	Recursive bool
}

type QueryFlags struct {
	APIFlags
	Pattern string
}

type DeployFlags struct {
	APIFlags
	Path string
}

type WatchFlags struct {
	APIFlags
	Types   []string
	Pattern string
	// Count stops the watch after that many notifications; 0 watches until
	// interrupted.
	Count int
}

type ServeFlags struct {
	ConfigPath  string
	Daemonize   bool
	PidFile     string
	LogFile     string
	NonBlocking bool
}

type TemplateCreateFlags struct {
	Type    string
	Name    string
	Output  string
	Package string
	JSON    bool
}
