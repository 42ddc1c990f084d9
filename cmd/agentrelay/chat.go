package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/client"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
)

// toolResultClip bounds the tool output preview, in runes.
const toolResultClip = 200

var chatServerURL string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal chat against a running relay",
	Long: `Chat connects to a running relay, opens a session and streams agent
responses to the terminal. Type 'tools' to inspect the session's tool
inventory, 'quit' to leave. The session is cleaned up on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatServerURL, "server", "http://localhost:8000", "Relay base URL")
}

func runChat(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("🚀 AgentRelay Chat")
	fmt.Println("Type 'quit' or 'exit' to end the session")
	fmt.Println("Type 'tools' to list available tools")
	fmt.Println(strings.Repeat("=", 50))

	cl := client.New(chatServerURL)

	conn, err := cl.Connect(ctx, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", chatServerURL, err)
	}
	sessionID := conn.SessionID
	fmt.Printf("✅ Connected! Session ID: %s\n", sessionID)

	defer cleanupSession(cl, sessionID)

	// Stdin is read on a separate goroutine so Ctrl-C interrupts the
	// prompt instead of leaving the loop stuck in a blocking read.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("\n👤 You: ")

		var input string
		select {
		case line, ok := <-lines:
			if !ok {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			input = strings.TrimSpace(line)
		case <-ctx.Done():
			fmt.Println("\n👋 Goodbye!")
			return nil
		}

		switch strings.ToLower(input) {
		case "quit", "exit", "bye":
			fmt.Println("👋 Goodbye!")
			return nil
		case "tools":
			listTools(ctx, cl, sessionID)
			continue
		case "":
			continue
		}

		streamTurn(ctx, cl, sessionID, input)
	}
}

// streamTurn sends one message and renders the response stream. Errors are
// printed, not returned; the chat loop survives a failed turn.
func streamTurn(ctx context.Context, cl *client.Client, sessionID, message string) {
	stream, err := cl.Chat(ctx, sessionID, message)
	if err != nil {
		fmt.Printf("❌ Error sending message: %v\n", err)
		return
	}
	defer stream.Close()

	fmt.Print("\n🤖 Agent: ")
	for stream.Next() {
		renderEvent(stream.Event())
	}
	if err := stream.Err(); err != nil {
		fmt.Printf("\n❌ Streaming error: %v\n", err)
	}
}

func renderEvent(ev core.ClientEvent) {
	switch ev.Kind {
	case core.EventToken:
		fmt.Print(ev.Content)
	case core.EventToolCallArgumentsComplete:
		fmt.Printf("\n\n🔧 Tool Call: %s\n", formatArguments(ev.Arguments))
	case core.EventToolCallFinished:
		fmt.Printf("📞 Calling: %s\n", ev.Name)
	case core.EventToolResponse:
		fmt.Printf("📋 Tool Result: %s...\n", formatOutput(ev.Output))
	case core.EventCompletion:
		fmt.Println("\n\n✅ Response completed")
	case core.EventError:
		fmt.Printf("\n❌ Error: %s\n", ev.Message)
	}
}

func formatArguments(args any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

// formatOutput previews a tool result. Results shaped like {"text": ...}
// render their text field, everything else its Go representation.
func formatOutput(output any) string {
	if m, ok := output.(map[string]any); ok {
		if text, ok := m["text"].(string); ok {
			return util.Clip(text, toolResultClip)
		}
	}
	return util.Clip(fmt.Sprintf("%v", output), toolResultClip)
}

func listTools(ctx context.Context, cl *client.Client, sessionID string) {
	listing, err := cl.Tools(ctx, sessionID)
	if err != nil {
		fmt.Printf("❌ Error listing tools: %v\n", err)
		return
	}

	fmt.Printf("\n🛠️  Available Tools for Agent '%s':\n", listing.AgentName)
	fmt.Printf("📊 Total tools: %d\n", listing.ToolsCount)
	fmt.Printf("🔧 Tool Server: %s\n", strings.Join(listing.ServerNames, ", "))
	fmt.Println(strings.Repeat("─", 60))

	for i, t := range listing.Tools {
		fmt.Printf("\n%d. 🔨 %s\n", i+1, t.Name)
		fmt.Printf("   📝 %s\n", t.Description)
		printParameters(t.InputSchema)
	}

	fmt.Println("\n" + strings.Repeat("─", 60))
}

func printParameters(schema map[string]any) {
	properties, ok := schema["properties"].(map[string]any)
	if !ok || len(properties) == 0 {
		return
	}

	required := make(map[string]bool)
	if list, ok := schema["required"].([]any); ok {
		for _, name := range list {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("   📋 Parameters:")
	for _, name := range names {
		info, _ := properties[name].(map[string]any)
		paramType, _ := info["type"].(string)
		if paramType == "" {
			paramType = "unknown"
		}
		desc, _ := info["description"].(string)
		if desc == "" {
			desc = "No description"
		}
		indicator := " (optional)"
		if required[name] {
			indicator = " (required)"
		}
		fmt.Printf("      • %s (%s)%s: %s\n", name, paramType, indicator, desc)
	}
}

// cleanupSession runs on exit with its own deadline; the loop context is
// usually canceled by then.
func cleanupSession(cl *client.Client, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cl.CloseSession(ctx, sessionID); err != nil {
		fmt.Printf("❌ Cleanup error: %v\n", err)
		return
	}
	fmt.Printf("🧹 Session %s cleaned up\n", sessionID)
}
