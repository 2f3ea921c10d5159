// ABOUTME: Admin CLI for coven-desk conversation and agent management.
// ABOUTME: Talks to the desk HTTP API with a bearer JWT from the environment.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
     _           _
  __| | ___  ___| | __      __ _  __| |_ __ ___ (_)_ __
 / _' |/ _ \/ __| |/ / ___ / _' |/ _' | '_ ' _ \| | '_ \
| (_| |  __/\__ \   < |___| (_| | (_| | | | | | | | | | |
 \__,_|\___||___/_|\_\     \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("DESK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	token := os.Getenv("DESK_TOKEN")

	c := &client{baseURL: baseURL, token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(c)
	case "conversations":
		err = cmdConversations(c, args)
	case "messages":
		err = cmdMessages(c, args)
	case "agents":
		err = cmdAgents(c)
	case "load":
		err = cmdLoad(c)
	case "transfer":
		err = cmdTransfer(c, args)
	case "resolve":
		err = cmdLifecycle(c, args, "resolve")
	case "reopen":
		err = cmdLifecycle(c, args, "reopen")
	case "suggest":
		err = cmdSuggest(c, args)
	case "availability":
		err = cmdAvailability(c, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: desk-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                          Check desk health")
	fmt.Println("  conversations [status]          List conversations (active|waiting|resolved)")
	fmt.Println("  messages <conversation-id>      Show a conversation's messages")
	fmt.Println("  agents                          List agents")
	fmt.Println("  load                            Show active chats per agent")
	fmt.Println("  transfer <conv-id> <agent-id> [priority] [note]")
	fmt.Println("                                  Hand a conversation to an agent")
	fmt.Println("  resolve <conversation-id>       Close a conversation out")
	fmt.Println("  reopen <conversation-id>        Reopen a resolved conversation")
	fmt.Println("  suggest <conversation-id>       Suggest the least-loaded agent")
	fmt.Println("  availability <agent-id> <state> Set agent availability")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  DESK_URL     Desk base URL (default: http://localhost:8090)")
	fmt.Println("  DESK_TOKEN   JWT from POST /api/login (required for most commands)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export DESK_TOKEN=\"eyJhbG...\"")
	fmt.Println("  desk-admin conversations active")
	fmt.Println("  desk-admin transfer 4f1f... ada high \"billing question\"")
	fmt.Println()
}

// client is a thin wrapper over the desk HTTP API.
type client struct {
	baseURL string
	token   string
}

func (c *client) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d from %s", resp.StatusCode, path)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type conversationRow struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id"`
	CustomerName   string    `json:"customer_name"`
	Status         string    `json:"status"`
	Handler        string    `json:"handler"`
	HandlerAgentID string    `json:"handler_agent_id"`
	UnreadCount    int       `json:"unread_count"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type messageRow struct {
	SenderKind    string    `json:"sender_kind"`
	SenderAgentID string    `json:"sender_agent_id"`
	Body          string    `json:"body"`
	SentAt        time.Time `json:"sent_at"`
}

type agentRow struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Availability string `json:"availability"`
	ActiveChats  int    `json:"active_chats"`
}

func cmdStatus(c *client) error {
	if err := c.do(http.MethodGet, "/api/health", nil, nil); err != nil {
		return err
	}
	color.Green("healthy")
	fmt.Printf("  %s\n", c.baseURL)
	return nil
}

func cmdConversations(c *client, args []string) error {
	path := "/api/conversations"
	if len(args) > 0 {
		path += "?status=" + args[0]
	}

	var rows []conversationRow
	if err := c.do(http.MethodGet, path, nil, &rows); err != nil {
		return err
	}

	if len(rows) == 0 {
		fmt.Println("No conversations.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCUSTOMER\tSTATUS\tHANDLER\tUNREAD\tLAST ACTIVITY")
	for _, row := range rows {
		handler := row.Handler
		if row.HandlerAgentID != "" {
			handler = row.HandlerAgentID
		}
		customer := row.CustomerName
		if customer == "" {
			customer = row.CustomerID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			row.ID, customer, row.Status, handler, row.UnreadCount,
			row.LastActivityAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func cmdMessages(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: desk-admin messages <conversation-id>")
	}

	var rows []messageRow
	if err := c.do(http.MethodGet, "/api/conversations/"+args[0]+"/messages?limit=100", nil, &rows); err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	for _, row := range rows {
		gray.Printf("%s ", row.SentAt.Local().Format("15:04:05"))
		switch row.SenderKind {
		case "customer":
			color.New(color.FgYellow).Print("customer")
		case "agent":
			color.New(color.FgGreen).Printf("%s", row.SenderAgentID)
		default:
			gray.Print("system")
		}
		fmt.Printf(": %s\n", row.Body)
	}
	return nil
}

func cmdAgents(c *client) error {
	var rows []agentRow
	if err := c.do(http.MethodGet, "/api/agents", nil, &rows); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tAVAILABILITY\tACTIVE")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			row.ID, row.Name, row.Role, row.Availability, row.ActiveChats)
	}
	return w.Flush()
}

func cmdLoad(c *client) error {
	var load map[string]int
	if err := c.do(http.MethodGet, "/api/agents/load", nil, &load); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tACTIVE CHATS")
	for agentID, count := range load {
		fmt.Fprintf(w, "%s\t%d\n", agentID, count)
	}
	return w.Flush()
}

func cmdTransfer(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: desk-admin transfer <conv-id> <agent-id> [priority] [note]")
	}

	body := map[string]string{"agent_id": args[1]}
	if len(args) > 2 {
		body["priority"] = args[2]
	}
	if len(args) > 3 {
		body["note"] = strings.Join(args[3:], " ")
	}

	var transfer struct {
		From     string `json:"from"`
		To       string `json:"to"`
		Priority string `json:"priority"`
	}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/transfer", body, &transfer); err != nil {
		return err
	}

	color.Green("Transferred %s -> %s (%s)\n", transfer.From, transfer.To, transfer.Priority)
	return nil
}

func cmdLifecycle(c *client, args []string, action string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: desk-admin %s <conversation-id>", action)
	}
	if err := c.do(http.MethodPost, "/api/conversations/"+args[0]+"/"+action, nil, nil); err != nil {
		return err
	}
	color.Green("OK")
	return nil
}

func cmdSuggest(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: desk-admin suggest <conversation-id>")
	}

	var agent agentRow
	if err := c.do(http.MethodGet, "/api/conversations/"+args[0]+"/suggest", nil, &agent); err != nil {
		return err
	}

	fmt.Printf("%s (%s) - %d active chats\n", agent.ID, agent.Name, agent.ActiveChats)
	return nil
}

func cmdAvailability(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: desk-admin availability <agent-id> <available|busy|offline>")
	}
	body := map[string]string{"availability": args[1]}
	if err := c.do(http.MethodPut, "/api/agents/"+args[0]+"/availability", body, nil); err != nil {
		return err
	}
	color.Green("OK")
	return nil
}
