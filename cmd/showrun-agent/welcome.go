package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ANSI color codes for terminal styling.
const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiMagenta   = "\033[95m"
	ansiUnderline = "\033[4m"
)

type welcomeBannerOptions struct {
	Version    string
	ListenAddr string
}

func printWelcomeBanner(w io.Writer, opts welcomeBannerOptions) {
	width := terminalWidth(w)
	useANSI := isTerminalWriter(w)

	logo := []string{
		`  ___ _  _  _____      _____  _   _ _  _ `,
		` / __| || |/ _ \ \    / / _ \| | | | \| |`,
		` \__ \ __ | (_) \ \/\/ /|   /| |_| | .` + "`" + ` |`,
		` |___/_||_|\___/ \_/\_/ |_|_\ \___/|_|\_|`,
	}

	fmt.Fprintln(w)
	for _, line := range logo {
		fmt.Fprintln(w, center(line, width))
	}
	fmt.Fprintln(w)

	if version := strings.TrimSpace(opts.Version); version != "" {
		fmt.Fprintln(w, center(fmt.Sprintf("Version: %s", version), width))
	}
	if addr := strings.TrimSpace(opts.ListenAddr); addr != "" {
		line := fmt.Sprintf("URL: %s", styleURL("http://"+addr, useANSI))
		fmt.Fprintln(w, centerWithAnsi(line, width))
	}
	fmt.Fprintln(w)
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}

// readSecretLine reads a key without echoing when stdin is a terminal.
func readSecretLine() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func styleURL(url string, enabled bool) string {
	if !enabled {
		return url
	}
	return fmt.Sprintf("%s%s%s%s", ansiMagenta, ansiUnderline, url, ansiReset)
}

func center(text string, width int) string {
	if width <= 0 {
		// Fallback for non-interactive outputs.
		return "    " + text
	}

	textLen := len([]rune(text))
	if textLen >= width {
		return text
	}

	padding := (width - textLen) / 2
	return strings.Repeat(" ", padding) + text
}

func stripAnsi(s string) string {
	result := s
	result = strings.ReplaceAll(result, ansiReset, "")
	result = strings.ReplaceAll(result, ansiBold, "")
	result = strings.ReplaceAll(result, ansiMagenta, "")
	result = strings.ReplaceAll(result, ansiUnderline, "")
	return result
}

func centerWithAnsi(text string, width int) string {
	if width <= 0 {
		return "    " + text
	}

	visibleText := stripAnsi(text)
	textLen := len([]rune(visibleText))
	if textLen >= width {
		return text
	}

	padding := (width - textLen) / 2
	return strings.Repeat(" ", padding) + text
}
