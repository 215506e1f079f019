// Package notifier implements the optional run-summary notification hook:
// a no-op by default, or an ntfy.sh HTTP POST when configured.
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meshtastic/fetchtastic/internal/logging"
)

// Event is the summary handed to Notify after a run completes.
type Event struct {
	Succeeded    int
	Failed       int
	Skipped      int
	NewVersions  []string
	Elapsed      time.Duration
	DownloadOnly bool // true when nothing new was downloaded this run
}

// Notifier is the core's only outbound notification seam.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop never sends anything; the default when no server is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Ntfy posts a plain-text summary to an ntfy.sh-compatible topic.
type Ntfy struct {
	Server               string
	Topic                string
	NotifyOnDownloadOnly bool
	Client               *http.Client
	Logger               logging.Logger
}

func (n *Ntfy) Notify(ctx context.Context, event Event) error {
	if n.Server == "" || n.Topic == "" {
		return nil
	}
	if event.DownloadOnly && n.NotifyOnDownloadOnly {
		return nil
	}

	body := formatSummary(event)
	url := strings.TrimRight(n.Server, "/") + "/" + n.Topic

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Title", "Fetchtastic run complete")

	resp, err := n.client().Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy server returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Ntfy) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return http.DefaultClient
}

func formatSummary(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Succeeded: %d, Failed: %d, Skipped: %d\n", event.Succeeded, event.Failed, event.Skipped)
	if len(event.NewVersions) > 0 {
		fmt.Fprintf(&b, "New versions: %s\n", strings.Join(event.NewVersions, ", "))
	}
	fmt.Fprintf(&b, "Elapsed: %s", event.Elapsed.Round(time.Second))
	return b.String()
}
