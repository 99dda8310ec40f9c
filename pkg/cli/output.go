package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/devicelab-dev/uisync/pkg/foreground"
	"github.com/devicelab-dev/uisync/pkg/uiautomation"
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// printSetupStep prints a setup step message
func printSetupStep(format string, args ...any) {
	fmt.Fprintf(color.Output, "  %s %s\n", cyan("⏳"), fmt.Sprintf(format, args...))
}

// printSetupSuccess prints a success message for setup
func printSetupSuccess(format string, args ...any) {
	fmt.Fprintf(color.Output, "  %s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

// printTree writes one line per node, indented by depth. maxDepth <= 0
// prints the whole tree.
func printTree(w io.Writer, root *uiautomation.Node, maxDepth int) {
	var walk func(n *uiautomation.Node, depth int)
	walk = func(n *uiautomation.Node, depth int) {
		if maxDepth > 0 && depth > maxDepth {
			return
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), formatNode(n))
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
}

func formatNode(n *uiautomation.Node) string {
	var b strings.Builder
	b.WriteString(cyan(shortClass(n.Class)))
	if n.ResourceID != "" {
		b.WriteString(" " + yellow("#"+n.ResourceID))
	}
	if n.Text != "" {
		b.WriteString(" " + green(fmt.Sprintf("%q", n.Text)))
	}
	if n.ContentDesc != "" {
		b.WriteString(" " + fmt.Sprintf("desc=%q", n.ContentDesc))
	}
	b.WriteString(" " + gray(fmt.Sprintf("[%d,%d %dx%d]", n.Bounds.X, n.Bounds.Y, n.Bounds.Width, n.Bounds.Height)))
	return b.String()
}

// shortClass drops the package of well-known framework classes.
func shortClass(class string) string {
	for _, prefix := range []string{"android.widget.", "android.view."} {
		if strings.HasPrefix(class, prefix) {
			return strings.TrimPrefix(class, prefix)
		}
	}
	return class
}

func printForeground(w io.Writer, a foreground.Activity, ok bool) {
	if !ok {
		fmt.Fprintf(w, "%s %s\n", gray("○"), gray("no resumed activity"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", green("●"), a.String())
}

func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
