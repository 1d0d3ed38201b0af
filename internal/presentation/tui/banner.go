package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the ASCII art banner for graft with the build version.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	// Using a subtle gradient-like color scheme (Green/Blue)
	s1 := termenv.String("   ____ ____      _    _____ _____ ").Foreground(p.Color("#34d399"))
	s2 := termenv.String("  / ___|  _ \\    / \\  |  ___|_   _|").Foreground(p.Color("#2dd4bf"))
	s3 := termenv.String(" | |  _| |_) |  / _ \\ | |_    | |  ").Foreground(p.Color("#22d3ee"))
	s4 := termenv.String(" | |_| |  _ <  / ___ \\|  _|   | |  ").Foreground(p.Color("#38bdf8"))
	s5 := termenv.String("  \\____|_| \\_\\/_/   \\_\\_|     |_|  ").Foreground(p.Color("#60a5fa"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5)
	fmt.Println(termenv.String("  reproducible runs, provenance kept  v" + version).Faint())
	fmt.Println()
}
