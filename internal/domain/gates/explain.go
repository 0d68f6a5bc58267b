package gates

import (
	"fmt"
	"strings"

	"github.com/sawpanic/tradegate/internal/domain"
)

// FormatExplanation renders a battery result for terminal output.
func FormatExplanation(symbol string, result BatteryResult) string {
	var b strings.Builder

	if result.AllPassed {
		fmt.Fprintf(&b, "✅ %s: ALL GATES PASSED\n", symbol)
	} else {
		fmt.Fprintf(&b, "❌ %s: ENTRY BLOCKED\n", symbol)
		fmt.Fprintf(&b, "   Blocked by: %s\n", strings.Join(result.Failed, ", "))
	}

	b.WriteString("\n📊 Gate Details:\n")
	for _, r := range result.Results {
		status := "❌"
		if r.Passed {
			status = "✅"
		}
		fmt.Fprintf(&b, "   %s %s", status, r.GateName)
		if r.Value != nil && r.Threshold != nil {
			fmt.Fprintf(&b, ": %.2f (limit: %.2f)", *r.Value, *r.Threshold)
		}
		if r.Reason != "" {
			fmt.Fprintf(&b, " → %s", r.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Summary partitions a battery result into the wire-level gate summary.
func Summary(result BatteryResult) domain.GateSummary {
	return domain.GateSummary{Passed: result.Passed, Failed: result.Failed}
}
