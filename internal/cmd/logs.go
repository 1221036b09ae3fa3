package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/internal/config"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the conductor log",
	Long: `Print the conductor daemon log file.

Examples:
  # Show the last 50 lines
  conductor logs

  # Show everything
  conductor logs -n 0

  # Follow new output in real time
  conductor logs -f

  # Only lines matching a substring
  conductor logs --grep deadlock`,
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsGrep   string
)

func init() {
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of trailing lines to show (0 = all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep the file open and print new lines as they arrive")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only print lines containing this substring")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	path := cfg.Logging.File
	if path == "" {
		return fmt.Errorf("logging.file is not configured; the daemon logs to stderr")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	printLogLines(data, true)

	if !logsFollow {
		return nil
	}
	return followLog(f, path)
}

// followLog watches the log file and prints bytes appended after the initial
// read. Rotation (the file shrinking or being replaced) restarts from the top
// of the new file.
func followLog(f *os.File, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			return nil
		case err := <-watcher.Errors:
			return fmt.Errorf("watch failed: %w", err)
		case ev := <-watcher.Events:
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.Size() < offset {
				// Rotated out from under us; reopen and start over.
				reopened, err := os.Open(path)
				if err != nil {
					continue
				}
				f.Close()
				f = reopened
				offset = 0
				_ = watcher.Add(path)
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return err
			}
			data, err := io.ReadAll(f)
			if err != nil {
				return err
			}
			offset += int64(len(data))
			printLogLines(data, false)
		}
	}
}

func printLogLines(data []byte, applyTail bool) {
	lines := strings.Split(string(data), "\n")
	if applyTail && logsTail > 0 && len(lines) > logsTail {
		lines = lines[len(lines)-logsTail:]
	}
	for _, line := range lines {
		if line == "" {
			continue
		}
		if logsGrep != "" && !strings.Contains(line, logsGrep) {
			continue
		}
		fmt.Println(line)
	}
}
