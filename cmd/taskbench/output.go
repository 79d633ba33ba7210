package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"taskbench/evaluation/evaluator"
	jsonx "taskbench/internal/shared/json"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorText(msg string) string { return red("error: " + msg) }

func stageText(name string) string { return bold("==> " + name) }

// printResult renders an evaluation result as text or JSON.
func printResult(w io.Writer, res evaluator.Result, asJSON bool) error {
	if asJSON {
		enc := jsonx.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	score := fmt.Sprintf("%.2f", res.Score)
	switch {
	case res.Passed():
		score = green(score + " PASS")
	case res.Score == 0:
		score = red(score + " FAIL")
	default:
		score = yellow(score + " PARTIAL")
	}
	fmt.Fprintf(w, "%s %s\n", bold("score:"), score)
	feedback := strings.TrimRight(res.Feedback, "\n")
	if feedback == "" {
		return nil
	}
	fmt.Fprintln(w, bold("feedback:"))
	for _, line := range strings.Split(feedback, "\n") {
		fmt.Fprintf(w, "  %s\n", gray(line))
	}
	return nil
}
