package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/jsr77/pkg/client"
)

// render prints v as JSON when output is "json", otherwise with table.
func (c command) render(output string, v any, table func(io.Writer)) error {
	switch output {
	case "json":
		printJSON(c.out, v)
	case "", "table":
		table(c.out)
	default:
		return fmt.Errorf("unknown output format %q (use table or json)", output)
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func printLines(w io.Writer, lines []string) {
	for _, l := range lines {
		_, _ = fmt.Fprintln(w, l)
	}
}

func printHealth(w io.Writer, h client.Health) {
	_, _ = fmt.Fprintf(w, "status:  %s\ndomain:  %s\nobjects: %d\n", h.Status, h.Domain, h.Objects)
}

func printObject(w io.Writer, o client.Object) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintf(tw, "Name\t%s\n", o.Name)
	if o.Type != "" {
		_, _ = fmt.Fprintf(tw, "j2eeType\t%s\n", o.Type)
	}
	if o.State != "" {
		_, _ = fmt.Fprintf(tw, "State\t%s\n", o.State)
	}
	for _, k := range sortedKeys(o.Attributes) {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, formatValue(o.Attributes[k]))
	}
	for _, k := range sortedKeys(o.Children) {
		_, _ = fmt.Fprintf(tw, "%s\t%d children\n", k, len(o.Children[k]))
	}
}

func printStats(w io.Writer, s client.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintf(tw, "STATISTIC\tVALUE\n")
	for _, k := range sortedKeys(s.Stats) {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, strings.TrimSpace(string(s.Stats[k])))
	}
}

func printCategories(w io.Writer, cats map[string][]string) {
	for _, k := range sortedKeys(cats) {
		_, _ = fmt.Fprintf(w, "%s:\n", k)
		for _, n := range cats[k] {
			_, _ = fmt.Fprintf(w, "  %s\n", n)
		}
	}
}

func printDeployments(w io.Writer, deps []client.Deployment) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintf(tw, "NAME\tKIND\tDEPLOYER\tCOMPONENTS\tLOCATION\n")
	var walk func(ds []client.Deployment, indent string)
	walk = func(ds []client.Deployment, indent string) {
		for _, d := range ds {
			_, _ = fmt.Fprintf(tw, "%s%s\t%s\t%s\t%d\t%s\n", indent, d.Name, d.Kind, d.Deployer, len(d.Components), d.Location)
			walk(d.Children, indent+"  ")
		}
	}
	walk(deps, "")
}

func printNotification(w io.Writer, n client.Notification) {
	line := fmt.Sprintf("%s  #%d  %-22s %s", n.Time.Format(time.RFC3339), n.Sequence, n.Type, n.Source)
	if n.Attribute != nil {
		line += fmt.Sprintf("  %s: %s -> %s", n.Attribute.Name, formatValue(n.Attribute.OldValue), formatValue(n.Attribute.NewValue))
	} else if n.Message != "" {
		line += "  " + n.Message
	}
	_, _ = fmt.Fprintln(w, line)
}

// formatValue prints scalars plainly and everything else as compact JSON.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case bool, float64, int64, int:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
