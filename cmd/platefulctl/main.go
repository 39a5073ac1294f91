package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)
	c := newClient(socketPath)

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "rooms":
		cmdRooms(c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: platefulctl messages <room-id>")
			os.Exit(1)
		}
		cmdMessages(c, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: platefulctl send <room-id> <text>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "))
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: platefulctl read <room-id>")
			os.Exit(1)
		}
		cmdRead(c, args[1])
	case "signin":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: platefulctl signin <user-id> [name]")
			os.Exit(1)
		}
		name := ""
		if len(args) > 2 {
			name = strings.Join(args[2:], " ")
		}
		cmdSignIn(c, args[1], name)
	case "signout":
		cmdSignOut(c)
	case "events":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdEvents(socketPath, prefix)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: platefulctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show daemon status")
	fmt.Fprintln(os.Stderr, "  rooms                     List mirrored rooms")
	fmt.Fprintln(os.Stderr, "  messages <room-id>        List a room's messages")
	fmt.Fprintln(os.Stderr, "  send <room-id> <text>     Send a message")
	fmt.Fprintln(os.Stderr, "  read <room-id>            Mark a room read")
	fmt.Fprintln(os.Stderr, "  signin <user-id> [name]   Sign in")
	fmt.Fprintln(os.Stderr, "  signout                   Sign out")
	fmt.Fprintln(os.Stderr, "  events [prefix]           Stream daemon events")
}

type client struct {
	http       *http.Client
	socketPath string
}

func newClient(socketPath string) *client {
	return &client{
		socketPath: socketPath,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *client) get(path string, out any) {
	resp, err := c.http.Get("http://plateful" + path)
	if err != nil {
		fail("cannot reach daemon: %v (is platefuld running?)", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		failBody(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fail("decode response: %v", err)
	}
}

func (c *client) post(path string, body any, out any, wantStatus int) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fail("encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	resp, err := c.http.Post("http://plateful"+path, "application/json", reader)
	if err != nil {
		fail("cannot reach daemon: %v (is platefuld running?)", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != wantStatus {
		failBody(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fail("decode response: %v", err)
		}
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func failBody(resp *http.Response) {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Error != "" {
		fail("%s (%d)", body.Error, resp.StatusCode)
	}
	fail("daemon returned %d", resp.StatusCode)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdStatus(c *client, jsonOut bool) {
	var resp struct {
		State       string `json:"state"`
		UserID      string `json:"user_id"`
		UserName    string `json:"user_name"`
		Loading     bool   `json:"loading"`
		GlobalError string `json:"global_error"`
	}
	c.get("/v1/status", &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("State:   %s\n", resp.State)
	if resp.UserID != "" {
		fmt.Printf("User:    %s (%s)\n", resp.UserName, resp.UserID)
	} else {
		fmt.Println("User:    signed out")
	}
	if resp.Loading {
		fmt.Println("Loading: yes")
	}
	if resp.GlobalError != "" {
		fmt.Printf("Error:   %s\n", resp.GlobalError)
	}
}

func cmdRooms(c *client, jsonOut bool) {
	var resp struct {
		Rooms []model.Room `json:"rooms"`
	}
	c.get("/v1/rooms", &resp)
	if jsonOut {
		outputJSON(resp.Rooms)
		return
	}
	if len(resp.Rooms) == 0 {
		fmt.Println("no rooms")
		return
	}
	for _, r := range resp.Rooms {
		marker := " "
		if r.Unread > 0 {
			marker = "*"
		}
		fmt.Printf("%s %-24s %s\n", marker, r.ID, r.Name)
	}
}

func cmdMessages(c *client, roomID string, jsonOut bool) {
	var resp struct {
		Messages []model.Message `json:"messages"`
		Error    string          `json:"error"`
	}
	c.get("/v1/rooms/"+roomID+"/messages", &resp)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, m := range resp.Messages {
		at := time.UnixMilli(m.CreatedAt).Format("15:04")
		suffix := ""
		switch m.Status {
		case model.StatusSending:
			suffix = " (sending)"
		case model.StatusFailed:
			suffix = " (failed)"
		}
		fmt.Printf("[%s] %s: %s%s\n", at, m.SenderName, m.Text, suffix)
	}
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s (showing last known messages)\n", resp.Error)
	}
}

func cmdSend(c *client, roomID, text string) {
	var resp struct {
		LocalID string `json:"local_id"`
	}
	c.post("/v1/rooms/"+roomID+"/messages", map[string]string{"text": text}, &resp, http.StatusAccepted)
	fmt.Printf("queued %s\n", resp.LocalID)
}

func cmdRead(c *client, roomID string) {
	c.post("/v1/rooms/"+roomID+"/read", nil, nil, http.StatusNoContent)
}

func cmdSignIn(c *client, userID, name string) {
	c.post("/v1/session/signin", map[string]string{"user_id": userID, "name": name}, nil, http.StatusNoContent)
	fmt.Printf("signed in as %s\n", userID)
}

func cmdSignOut(c *client) {
	c.post("/v1/session/signout", nil, nil, http.StatusNoContent)
	fmt.Println("signed out")
}

func cmdEvents(socketPath, prefix string) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	url := "ws://plateful/v1/events"
	if prefix != "" {
		url += "?prefix=" + prefix
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		fail("cannot reach daemon: %v (is platefuld running?)", err)
	}
	defer func() { _ = conn.Close() }()

	for {
		var evt struct {
			ID      string          `json:"id"`
			Kind    string          `json:"kind"`
			At      int64           `json:"at"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&evt); err != nil {
			fail("stream closed: %v", err)
		}
		at := time.UnixMilli(evt.At).Format("15:04:05.000")
		fmt.Printf("%s %-28s %s\n", at, evt.Kind, string(evt.Payload))
	}
}
