package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fclairamb/mediasync/internal/sync"
)

// durationPrecision rounds durations in summaries.
const durationPrecision = 100 * time.Millisecond

// displayEvent renders run events on stderr so stdout only carries the summary.
//
//nolint:forbidigo // CLI user output function
func displayEvent(ev sync.Event) {
	switch ev.Kind {
	case sync.EventStart, sync.EventEnd:
		fmt.Fprintln(os.Stderr, ev.Message)
	case sync.EventProgress:
		fmt.Fprintf(os.Stderr, "%s %s\n", ev.Message, ev.Document)
	case sync.EventError:
		fmt.Fprintf(os.Stderr, "%s (%v)\n", ev.Message, ev.Err)
	}
}

// displayRunResult prints the summary of a run.
//
//nolint:forbidigo // CLI user output function
func displayRunResult(result *sync.Result) {
	fmt.Printf("\nSync Results:\n")
	fmt.Printf("  Documents processed: %d/%d\n", result.Processed, result.Total)
	if result.Skipped > 0 {
		fmt.Printf("  Already processed: %d\n", result.Skipped)
	}
	if result.FailedDocuments > 0 {
		fmt.Printf("  Failed documents: %d\n", result.FailedDocuments)
	}
	fmt.Printf("  Media downloaded: %d (%s)\n", result.Downloaded, humanize.IBytes(uint64(result.Bytes)))
	if result.Rejected > 0 {
		fmt.Printf("  Links left as-is (not media): %d\n", result.Rejected)
	}
	if result.FailedURLs > 0 {
		fmt.Printf("  Links that failed: %d\n", result.FailedURLs)
	}
	fmt.Printf("  Resource folder: %s\n", result.ResourceFolder)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(durationPrecision))
	if result.StateErr != nil {
		fmt.Printf("  State NOT saved: %v\n", result.StateErr)
	}
}

// displayStatus prints the persisted state of the vault.
//
//nolint:forbidigo // CLI user output function
func displayStatus(status *sync.StatusInfo, listFiles bool) {
	fmt.Println("Media Sync Status")
	fmt.Println()

	fmt.Printf("State file: %s\n", status.StatePath)
	if status.LastSaved.IsZero() {
		fmt.Println("Last saved: never")
	} else {
		fmt.Printf("Last saved: %s\n", humanize.Time(status.LastSaved))
	}

	fmt.Printf("Documents: %s\n", humanize.Comma(int64(status.Documents)))
	fmt.Printf("Processed: %s\n", humanize.Comma(int64(len(status.Files))))
	fmt.Printf("Pending: %s\n", humanize.Comma(int64(status.Pending)))
	fmt.Println()

	displaySettings(status.Setting, status.ResourceFolder)

	if listFiles && len(status.Files) > 0 {
		fmt.Println("\nProcessed documents:")
		for _, name := range status.Files {
			fmt.Printf("  - %s\n", name)
		}
	}
}

// displaySettings prints the settings and the folder they resolve to.
//
//nolint:forbidigo // CLI user output function
func displaySettings(setting sync.Setting, resolved string) {
	fmt.Println("Settings:")
	fmt.Printf("  Save directory: %s\n", describeSaveDirectory(setting.SaveDirectory))
	if setting.ResourceFolderName != "" {
		fmt.Printf("  Resource folder name: %s\n", setting.ResourceFolderName)
	}
	fmt.Printf("  Media stored in: %s\n", resolved)
}

// displayForgotten prints the outcome of a forget command.
//
//nolint:forbidigo // CLI user output function
func displayForgotten(removed int) {
	if removed == 0 {
		fmt.Println("Nothing to forget")
		return
	}
	fmt.Printf("Forgot %s processed %s\n", humanize.Comma(int64(removed)), pluralize(removed, "document", "documents"))
}

func describeSaveDirectory(sd sync.SaveDirectory) string {
	switch sd {
	case sync.SaveDirectoryAttachment:
		return "attachment (host attachment folder)"
	case sync.SaveDirectoryUserDefined:
		return "custom"
	default:
		return "default (" + sync.DefaultResourceFolder + ")"
	}
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
