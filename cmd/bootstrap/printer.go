package bootstrap

import (
	"fmt"
	"os"
	"strings"
)

const defaultBanner = `
 _     _              ____      _ _
| |   (_)_ __   __ _ / ___|__ _| | |
| |   | | '_ \ / _` + "`" + ` | |   / _` + "`" + ` | | |
| |___| | | | | (_| | |__| (_| | | |
|_____|_|_| |_|\__, |\____\__,_|_|_|
               |___/
`

// PrintBannerFromFile reads the banner file and prints it with a color
// gradient. A missing file gets the default banner written first.
func PrintBannerFromFile(filename string, serverName string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		if err := os.WriteFile(filename, []byte(defaultBanner), 0o644); err != nil {
			return fmt.Errorf("failed to write banner file: %w", err)
		}
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")

	colors := []string{
		"\x1b[38;5;165m",
		"\x1b[38;5;189m",
		"\x1b[38;5;207m",
		"\x1b[38;5;219m",
		"\x1b[38;5;225m",
		"\x1b[38;5;231m",
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		color := colors[i%len(colors)]
		fmt.Println(color + line + "\x1b[0m")
	}
	fmt.Printf("\x1b[38;5;245m%s\x1b[0m\n\n", serverName)
	return nil
}
