package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/barterhub/barterd/internal/config"
	"github.com/barterhub/barterd/internal/profile"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		cfg, err := config.LoadOrDefault(profile.ConfigPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		addr = cfg.Daemon.ListenAddr
	}
	c := &ctl{base: "http://" + addr, jsonOut: *jsonFlag}

	switch args[0] {
	case "status":
		c.get("/healthz")
	case "list":
		c.get("/v1/conversations")
	case "open":
		c.post(args, "open", nil)
	case "close":
		c.post(args, "close", nil)
	case "state":
		c.requireConv(args)
		c.get("/v1/conversations/" + args[1] + "/state")
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: barterctl send <conversation> <body>")
			os.Exit(1)
		}
		c.post(args, "messages", map[string]string{"body": args[2]})
	case "retry":
		c.post(args, "retry", nil)
	case "read":
		c.post(args, "read", nil)
	case "archive":
		c.post(args, "archive", nil)
	case "pin":
		c.post(args, "pin", nil)
	case "unpin":
		c.post(args, "unpin", nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: barterctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show daemon health")
	fmt.Fprintln(os.Stderr, "  list                      List cached conversations")
	fmt.Fprintln(os.Stderr, "  open <conversation>       Open a conversation session")
	fmt.Fprintln(os.Stderr, "  close <conversation>      Close a conversation session")
	fmt.Fprintln(os.Stderr, "  state <conversation>      Show connection state and queue depth")
	fmt.Fprintln(os.Stderr, "  send <conversation> <body> Send a message")
	fmt.Fprintln(os.Stderr, "  retry <conversation>      Retry the connection now")
	fmt.Fprintln(os.Stderr, "  read <conversation>       Mark the conversation read")
	fmt.Fprintln(os.Stderr, "  archive|pin|unpin <conversation>")
}

type ctl struct {
	base    string
	jsonOut bool
}

func (c *ctl) requireConv(args []string) {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: barterctl %s <conversation>\n", args[0])
		os.Exit(1)
	}
}

func (c *ctl) get(path string) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(c.base + path)
	c.render(resp, err)
}

func (c *ctl) post(args []string, suffix string, body any) {
	c.requireConv(args)
	var buf bytes.Buffer
	if body == nil {
		body = map[string]string{}
	}
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(c.base+"/v1/conversations/"+args[1]+"/"+suffix, "application/json", &buf)
	c.render(resp, err)
}

func (c *ctl) render(resp *http.Response, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if c.jsonOut {
		fmt.Println(string(data))
	} else {
		var pretty bytes.Buffer
		if json.Indent(&pretty, data, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(data))
		}
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
