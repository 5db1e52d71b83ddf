package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/loykin/jsr77/pkg/client"
	"github.com/loykin/jsr77/pkg/template"
)

// command carries the output of the CLI handlers so tests can capture it.
type command struct {
	out io.Writer
}

func newCommand() command { return command{out: os.Stdout} }

func (c command) connect(f APIFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if f.APIUrl != "" {
		cfg.BaseURL = f.APIUrl
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.Insecure = f.Insecure
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: f.CACert}
	}
	return client.New(cfg)
}

// reachable connects and fails early with a hint when no server answers.
func (c command) reachable(ctx context.Context, f APIFlags) (*client.Client, error) {
	cl, err := c.connect(f)
	if err != nil {
		return nil, err
	}
	if !cl.IsReachable(ctx) {
		url := f.APIUrl
		if url == "" {
			url = client.DefaultConfig().BaseURL
		}
		return nil, fmt.Errorf("server not reachable at %s - start it first with 'jsr77 serve'", url)
	}
	return cl, nil
}

func (c command) Health(ctx context.Context, f APIFlags) error {
	cl, err := c.connect(f)
	if err != nil {
		return err
	}
	h, err := cl.Health(ctx)
	if err != nil {
		return err
	}
	return c.render(f.Output, h, func(w io.Writer) { printHealth(w, h) })
}

func (c command) Query(ctx context.Context, f QueryFlags) error {
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	pattern := f.Pattern
	if pattern == "" {
		pattern = "*:*"
	}
	names, err := cl.Query(ctx, pattern)
	if err != nil {
		return err
	}
	return c.render(f.Output, names, func(w io.Writer) { printLines(w, names) })
}

func (c command) Get(ctx context.Context, f ObjectFlags) error {
	if f.Name == "" {
		return errors.New("object name is required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if f.Attribute != "" {
		obj, err := cl.Object(ctx, f.Name)
		if err != nil {
			return err
		}
		v, ok := obj.Attributes[f.Attribute]
		if !ok {
			return fmt.Errorf("%s has no attribute %s", f.Name, f.Attribute)
		}
		return c.render(f.Output, v, func(w io.Writer) { _, _ = fmt.Fprintln(w, formatValue(v)) })
	}
	obj, err := cl.Object(ctx, f.Name)
	if err != nil {
		return err
	}
	return c.render(f.Output, obj, func(w io.Writer) { printObject(w, obj) })
}

func (c command) Stats(ctx context.Context, f ObjectFlags) error {
	if f.Name == "" {
		return errors.New("object name is required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	st, err := cl.Stats(ctx, f.Name)
	if err != nil {
		return err
	}
	return c.render(f.Output, st, func(w io.Writer) { printStats(w, st) })
}

func (c command) Children(ctx context.Context, f ObjectFlags) error {
	if f.Name == "" {
		return errors.New("object name is required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if f.Category != "" {
		names, err := cl.Children(ctx, f.Name, f.Category)
		if err != nil {
			return err
		}
		return c.render(f.Output, names, func(w io.Writer) { printLines(w, names) })
	}
	cats, err := cl.ChildCategories(ctx, f.Name)
	if err != nil {
		return err
	}
	return c.render(f.Output, cats, func(w io.Writer) { printCategories(w, cats) })
}

func (c command) Start(ctx context.Context, f ObjectFlags) error {
	if f.Name == "" {
		return errors.New("object name is required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if f.Recursive {
		err = cl.StartRecursive(ctx, f.Name)
	} else {
		err = cl.Start(ctx, f.Name)
	}
	if err != nil {
		return err
	}
	return c.printState(ctx, cl, f)
}

func (c command) Stop(ctx context.Context, f ObjectFlags) error {
	if f.Name == "" {
		return errors.New("object name is required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx, f.Name); err != nil {
		return err
	}
	return c.printState(ctx, cl, f)
}

func (c command) printState(ctx context.Context, cl *client.Client, f ObjectFlags) error {
	obj, err := cl.Object(ctx, f.Name)
	if err != nil {
		return err
	}
	out := map[string]string{"name": obj.Name, "state": obj.State}
	return c.render(f.Output, out, func(w io.Writer) { _, _ = fmt.Fprintf(w, "%s\t%s\n", obj.Name, obj.State) })
}

func (c command) Set(ctx context.Context, f ObjectFlags) error {
	if f.Name == "" || f.Attribute == "" {
		return errors.New("object name and attribute are required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	v := parseValue(f.Value)
	if err := cl.SetAttribute(ctx, f.Name, f.Attribute, v); err != nil {
		return err
	}
	return c.Get(ctx, f)
}

// parseValue reads a command line value as JSON, falling back to the raw
// string so `--value abc` needs no quoting.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func (c command) Deploy(ctx context.Context, f DeployFlags) error {
	if f.Path == "" {
		return errors.New("deployment path is required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	// The server resolves the path on its own file system; make it absolute
	// for the common case of a local server.
	path := f.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := cl.Deploy(ctx, path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Deployed %s\n", path)
	return nil
}

func (c command) Undeploy(ctx context.Context, f DeployFlags) error {
	if f.Path == "" {
		return errors.New("deployment path is required")
	}
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	path := f.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if err := cl.Undeploy(ctx, path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Undeployed %s\n", path)
	return nil
}

func (c command) Deployments(ctx context.Context, f APIFlags) error {
	cl, err := c.reachable(ctx, f)
	if err != nil {
		return err
	}
	deps, err := cl.Deployments(ctx)
	if err != nil {
		return err
	}
	return c.render(f.Output, deps, func(w io.Writer) { printDeployments(w, deps) })
}

// Watch prints notifications until interrupted, or until Count of them
// arrived.
func (c command) Watch(ctx context.Context, f WatchFlags) error {
	cl, err := c.reachable(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := 0
	filter := client.WatchFilter{Types: f.Types, Pattern: f.Pattern}
	return cl.Watch(ctx, filter, nil, func(n client.Notification) {
		if f.Output == "json" {
			printJSON(c.out, n)
		} else {
			printNotification(c.out, n)
		}
		seen++
		if f.Count > 0 && seen >= f.Count {
			cancel()
		}
	})
}

// TemplateCreate writes an exploded deployment skeleton, or prints it as
// JSON.
func (c command) TemplateCreate(f TemplateCreateFlags) error {
	name := f.Name
	if name == "" {
		name = f.Type + "-sample"
	}
	g := template.NewGenerator()
	if f.Package != "" {
		g.Package = f.Package
	}
	if f.JSON {
		b, err := g.GenerateJSON(template.TemplateType(f.Type), name)
		if err != nil {
			return fmt.Errorf("failed to generate template: %w", err)
		}
		_, _ = fmt.Fprintln(c.out, string(b))
		return nil
	}
	tpl, err := g.Generate(template.TemplateType(f.Type), name)
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}
	parent := f.Output
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	root, err := tpl.Write(parent)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Template '%s' created: %s\n", name, root)
	_, _ = fmt.Fprintf(c.out, "Deploy it with: jsr77 deploy --path %s\n", root)
	return nil
}
