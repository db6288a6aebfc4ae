package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Dyastin-0/lanchat/client"
	"github.com/Dyastin-0/lanchat/progress"
	"github.com/Dyastin-0/lanchat/state"
	"github.com/Dyastin-0/lanchat/styles"
	"github.com/Dyastin-0/lanchat/types"
	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
)

type terminal struct {
	client   *client.Client
	progress *progress.Progress
	bars     map[string]*mpb.Bar
	rendered int
}

func newTerminal(c *client.Client) *terminal {
	return &terminal{
		client:   c,
		progress: progress.New(),
		bars:     make(map[string]*mpb.Bar),
	}
}

// renderLoop prints every new display entry as the state changes and
// keeps the outgoing transfer bars in sync.
func (t *terminal) renderLoop(ctx context.Context) {
	store := t.client.Store()

	for {
		select {
		case <-ctx.Done():
			return
		case <-store.Updates():
			snap := store.Snapshot()

			for _, entry := range snap.Entries[t.rendered:] {
				fmt.Println(formatEntry(entry))
			}
			t.rendered = len(snap.Entries)

			t.updateBars(snap.Transfers)
		}
	}
}

func formatEntry(entry state.Entry) string {
	if entry.Kind == state.EntrySystem {
		return styles.INFO.Render(entry.Body)
	}

	if entry.Me {
		return fmt.Sprintf("%s %s", styles.ME.Render(entry.Sender+" (me):"), entry.Body)
	}

	return fmt.Sprintf("%s %s", styles.NAME.Render(entry.Sender+":"), entry.Body)
}

func (t *terminal) updateBars(transfers []state.TransferView) {
	for _, tr := range transfers {
		if tr.Direction != state.Outgoing {
			continue
		}

		bar, ok := t.bars[tr.ID]
		if !ok {
			if tr.Status != state.TransferInProgress {
				continue
			}
			bar = t.progress.NewBar(tr.TotalSize, tr.Filename)
			t.bars[tr.ID] = bar
		}

		switch tr.Status {
		case state.TransferInProgress:
			bar.SetCurrent(tr.Bytes)
		case state.TransferCompleted:
			bar.SetCurrent(tr.TotalSize)
		case state.TransferFailed:
			bar.Abort(true)
		}
	}
}

// inputLoop reads typed lines and turns them into intents. Lines
// starting with a slash are commands; anything else is a text message.
func (t *terminal) inputLoop() {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			t.client.Quit()
			return

		case line == "/peers":
			t.printPeers()

		case line == "/send":
			for _, path := range t.pickFiles() {
				t.client.SendFile(path)
			}

		case strings.HasPrefix(line, "/send "):
			t.client.SendFile(strings.TrimSpace(strings.TrimPrefix(line, "/send ")))

		case strings.HasPrefix(line, "/"):
			fmt.Println(styles.ERROR.Render(fmt.Sprintf("unknown command %s", line)))

		default:
			t.client.SendText(line)
		}
	}

	// Stdin closed, treat it as quitting.
	t.client.Quit()
}

func (t *terminal) printPeers() {
	snap := t.client.Store().Snapshot()

	connected := 0
	for _, peer := range snap.Peers {
		if peer.State == types.StateConnected {
			connected++
		}
	}

	fmt.Println(styles.INFO.Render(fmt.Sprintf("%d peer(s), %d connected", len(snap.Peers), connected)))

	for _, peer := range snap.Peers {
		fmt.Printf("  %s %s %s\n",
			styles.NAME.Render(peer.Name),
			peer.Addr(),
			styles.INFO.Render(string(peer.State)),
		)
	}
}

// pickFiles opens a multi-select over the current directory.
func (t *terminal) pickFiles() []string {
	entries, err := os.ReadDir(".")
	if err != nil {
		fmt.Println(styles.ERROR.Render(fmt.Sprintf("failed to read directory: %v", err)))
		return nil
	}

	var options []huh.Option[string]
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		label := fmt.Sprintf("%s (%s)", entry.Name(), humanize.IBytes(uint64(info.Size())))
		options = append(options, huh.NewOption(label, entry.Name()))
	}

	if len(options) == 0 {
		fmt.Println(styles.INFO.Render("no files here to send"))
		return nil
	}

	var selected []string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select files to send").
				Options(options...).
				Value(&selected),
		),
	)

	if err := form.Run(); err != nil {
		return nil
	}

	return selected
}
