package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxResultPreview = 80

// printResult writes res in the requested format: text, json or yaml.
func printResult(w io.Writer, res schemas.TaskResult, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		return printText(w, res)
	case "json":
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printText(w io.Writer, res schemas.TaskResult) error {
	fmt.Fprintf(w, "Task:    %s\n", res.Task)
	fmt.Fprintf(w, "Status:  %s\n", res.Status)
	if res.Reason != "" {
		fmt.Fprintf(w, "Reason:  %s\n", res.Reason)
	}
	fmt.Fprintf(w, "Summary: %s\n", res.Summary)
	fmt.Fprintf(w, "Steps:   %d (%s)\n", res.StepsCount, res.Duration.Round(time.Millisecond))
	if len(res.Steps) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSKILL\tOK\tINSTRUCTION\tRESULT")
	for i, s := range res.Steps {
		ok := "no"
		if success, _ := s.Result["success"].(bool); success {
			ok = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, s.Skill, ok, clip(s.Instruction), clip(describeResult(s.Result)))
	}
	return tw.Flush()
}

// describeResult renders a step result as sorted key=value pairs without the
// success flag.
func describeResult(result map[string]any) string {
	keys := make([]string, 0, len(result))
	for k := range result {
		if k != "success" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, result[k]))
	}
	return strings.Join(parts, " ")
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxResultPreview {
		return s
	}
	return string(r[:maxResultPreview-3]) + "..."
}
