package smoke

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// CheckFormat reports whether Print understands format.
func CheckFormat(format string) error {
	switch format {
	case "json", "pretty", "":
		return nil
	}
	return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
}

// Print renders the report as "pretty" or "json".
func Print(w io.Writer, rep Report, format string) error {
	if err := CheckFormat(format); err != nil {
		return err
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	default:
		printPretty(w, rep)
		return nil
	}
}

func printPretty(w io.Writer, rep Report) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(w, "Smoke test: %s\n\n", rep.BaseURL)
	for _, r := range rep.Results {
		mark := ok("✓")
		if !r.Passed {
			mark = bad("✗")
		}
		fmt.Fprintf(w, "  %s %-20s %s %s\n", mark, r.Name, r.Message, dim(fmt.Sprintf("(%dms)", r.DurationMS)))
	}
	fmt.Fprintln(w)

	total := rep.Passed + rep.Failed
	if rep.OK() {
		fmt.Fprintf(w, "%s %d/%d checks passed\n", ok("PASS"), rep.Passed, total)
		return
	}
	fmt.Fprintf(w, "%s %d/%d checks passed, %d failed\n", bad("FAIL"), rep.Passed, total, rep.Failed)
}
