// Command tripcli is an interactive console for the Trip Designer agent:
// one in-memory itinerary, one session, a readline prompt per turn.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/tripdesigner/agent/pkg/agentloop"
	"github.com/tripdesigner/agent/pkg/config"
	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/kb"
	"github.com/tripdesigner/agent/pkg/logger"
	"github.com/tripdesigner/agent/pkg/providers"
	"github.com/tripdesigner/agent/pkg/session"
	"github.com/tripdesigner/agent/pkg/summarizer"
	"github.com/tripdesigner/agent/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripcli: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.LevelError) // keep the console clean

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripcli: %v\n", err)
		os.Exit(1)
	}

	var kbStore *kb.Store
	if cfg.KnowledgeBase.Backend != "none" && cfg.KnowledgeBase.Backend != "" {
		kbStore, _ = kb.NewStore(cfg.KnowledgeBase.Path, cfg.KnowledgeBase.RelevanceThreshold, nil)
	}

	store := itinerary.NewMemoryStore()
	it := itinerary.NewItinerary(uuid.NewString(), "cli", time.Now())
	if err := store.Create(context.Background(), it); err != nil {
		fmt.Fprintf(os.Stderr, "tripcli: %v\n", err)
		os.Exit(1)
	}

	sessions := session.NewSessionManager("")
	sessionKey := uuid.NewString()
	sessions.CreateForItinerary(sessionKey, it.ID)

	registry, cache := tools.BuildRegistry(store, kbStore)
	loop := agentloop.NewLoop(provider, sessions, registry, cache, store, kbStore, cfg.Agent)

	rl, err := readline.New("you> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripcli: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("Trip Designer console. /itinerary shows the plan, /quit exits.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return
		case line == "/itinerary":
			current, err := store.Get(context.Background(), it.ID)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println(summarizer.SummarizeItinerary(current))
			continue
		}

		runTurn(loop, sessionKey, line)
	}
}

func runTurn(loop *agentloop.Loop, sessionKey, message string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for ev := range loop.ChatStream(ctx, sessionKey, message) {
		switch ev.Kind {
		case agentloop.EventText:
			fmt.Print(ev.Content)
		case agentloop.EventToolCall:
			fmt.Printf("\n[%s]\n", ev.ToolName)
		case agentloop.EventToolResult:
			if !ev.Success {
				fmt.Printf("[tool failed: %s]\n", ev.Error)
			}
		case agentloop.EventDone:
			fmt.Println()
			if ev.ItineraryUpdated {
				fmt.Printf("(itinerary updated, %d segment(s) touched, ~%d tokens, $%.4f total)\n",
					len(ev.SegmentsModified), ev.TokensUsed, ev.CostUSD)
			}
			if ev.Warning != "" {
				fmt.Printf("(warning: %s)\n", ev.Warning)
			}
		case agentloop.EventError:
			fmt.Printf("error (%s): %s\n", ev.ErrorKind, ev.Message)
		}
	}
}
