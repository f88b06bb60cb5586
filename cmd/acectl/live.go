package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/soulseed/acectl/internal/config"
	"github.com/soulseed/acectl/internal/debug"
	"github.com/soulseed/acectl/internal/sse"
	"github.com/soulseed/acectl/internal/ui"
)

var liveCmd = &cobra.Command{
	Use:     "live",
	GroupID: "views",
	Short:   "Follow the live dialogue stream for the active session",
	Long: `Attach to the tenant's live dialogue stream and print events as they
arrive. When the context file changes (acectl config set tenant/session,
or an edit from another terminal), the stream moves to the new selection
automatically. Ctrl+C detaches.`,
	Run: func(cmd *cobra.Command, args []string) {
		runLive()
	},
}

func init() {
	rootCmd.AddCommand(liveCmd)
}

func runLive() {
	client, err := newAPIClient()
	if err != nil {
		fatal(err)
	}
	tenant, session := currentTenant(), currentSession()
	if tenant == "" {
		fatal(errors.New("no tenant configured (set one with 'acectl config set tenant <id>')"))
	}

	ctx := getRootContext()

	var mu sync.Mutex
	var handle *sse.Handle

	// open swaps the live stream to a new tenant/session, closing the old
	// handle first so at most one connection is live.
	open := func(tenant, session string) {
		streamClient := &sse.Client{Header: client.StreamHeader(tenant)}
		cb := sse.Callbacks{
			OnOpen: func() {
				debug.Printf("live: attached to %s/%s\n", tenant, session)
			},
			OnMessage: func(msg sse.Message) {
				printLiveMessage(msg)
			},
			OnError: func(reason string) {
				debug.Logf("live stream: %s", reason)
			},
		}
		h, err := streamClient.Connect(client.LiveStreamURL(tenant, session), cb, streamOptions())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: live stream: %v\n", err)
			return
		}

		mu.Lock()
		old := handle
		handle = h
		mu.Unlock()
		if old != nil {
			old.Close()
		}
	}

	open(tenant, session)
	if !quietFlag {
		fmt.Printf("%s following %s/%s (Ctrl+C to detach)\n",
			ui.RenderInfoIcon(), ui.RenderAccent(tenant), ui.RenderAccent(session))
	}

	go func() {
		err := config.WatchContext(ctx, func(c config.Context) {
			if c.Tenant == "" {
				return
			}
			if !quietFlag {
				fmt.Printf("%s context changed, moving to %s/%s\n",
					ui.RenderInfoIcon(), ui.RenderAccent(c.Tenant), ui.RenderAccent(c.Session))
			}
			open(c.Tenant, c.Session)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			debug.Logf("context watch stopped: %v", err)
		}
	}()

	<-ctx.Done()

	mu.Lock()
	if handle != nil {
		handle.Close()
	}
	mu.Unlock()
}

// printLiveMessage renders one stream event. Dialogue payloads reuse the
// timeline formatting; anything unrecognized prints raw.
func printLiveMessage(msg sse.Message) {
	if jsonOutput {
		out, err := json.Marshal(map[string]string{"event": msg.Event, "data": msg.Data})
		if err == nil {
			fmt.Println(string(out))
		}
		return
	}
	if json.Valid([]byte(msg.Data)) {
		fmt.Println(renderTimelineItem(json.RawMessage(msg.Data)))
		return
	}
	fmt.Printf("%s %s\n", ui.RenderCategory(msg.Event), msg.Data)
}
