package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lexiqai/scene-assistant/internal/config"
	"github.com/lexiqai/scene-assistant/internal/frontend"
	"github.com/lexiqai/scene-assistant/internal/pipeline"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: assistantctl [--addr URL] speak|scan|stop|cancel\n")
	cli.PrintDefaults()
}

func main() {
	defaultAddr := "http://localhost:" + config.GetEnv("PORT", "8080")
	addr := cli.StringP("addr", "a", defaultAddr, "Address of the assistant")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Request timeout")
	cli.Usage = usage
	cli.Parse()

	if cli.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	name := cli.Arg(0)
	if _, ok := pipeline.ParseTrigger(name); !ok {
		fmt.Fprintf(os.Stderr, "unknown trigger %q\n", name)
		usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: *timeout}
	url := strings.TrimRight(*addr, "/") + "/triggers/" + name
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "assistant not running:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var body frontend.TriggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(os.Stderr, "unexpected response (status %d): %v\n", resp.StatusCode, err)
		os.Exit(1)
	}

	if resp.StatusCode != http.StatusAccepted {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", body.Trigger, body.Status, body.Error)
		os.Exit(1)
	}
	fmt.Printf("%s %s\n", body.Trigger, body.Status)
}
