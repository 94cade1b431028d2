// Spaceduckctl is a small operator CLI for a running gateway.
//
// Usage:
//
//	spaceduckctl health
//	spaceduckctl pair                      — interactive pairing flow
//	spaceduckctl config get
//	spaceduckctl config set <path> <json>  — single-op revision-gated patch
//	spaceduckctl tasks list [status]
//	spaceduckctl tokens list
//	spaceduckctl tokens revoke <id>
//
// Connection settings come from ~/.config/spaceduck/ctl.yaml
// (base_url, token), overridable with SPACEDUCK_URL / SPACEDUCK_TOKEN.
// A successful `pair` writes the issued token back into the profile.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maziarzamani/spaceduck-sub000/common/environment"
)

type profile struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`
}

func profilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "spaceduck", "ctl.yaml")
}

func loadProfile() profile {
	p := profile{BaseURL: "http://127.0.0.1:8790"}
	if path := profilePath(); path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(raw, &p)
		}
	}
	p.BaseURL = environment.StringOr("SPACEDUCK_URL", p.BaseURL)
	p.Token = environment.StringOr("SPACEDUCK_TOKEN", p.Token)
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
	return p
}

func saveProfile(p profile) error {
	path := profilePath()
	if path == "" {
		return fmt.Errorf("cannot determine home directory for profile")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	p := loadProfile()
	c := &client{profile: p, http: &http.Client{Timeout: 30 * time.Second}}

	var err error
	switch os.Args[1] {
	case "health":
		err = c.getAndPrint("/api/health", false)
	case "pair":
		err = c.pair()
	case "config":
		err = c.configCmd(os.Args[2:])
	case "tasks":
		err = c.tasksCmd(os.Args[2:])
	case "tokens":
		err = c.tokensCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: spaceduckctl <health|pair|config|tasks|tokens> ...")
}

type client struct {
	profile profile
	http    *http.Client
}

func (c *client) do(method, path string, body any, authed bool) (map[string]any, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.profile.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.profile.Token == "" {
			return nil, fmt.Errorf("no token configured; run `spaceduckctl pair` first")
		}
		req.Header.Set("Authorization", "Bearer "+c.profile.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return decoded, fmt.Errorf("%s %s: HTTP %d: %v", method, path, resp.StatusCode, decoded["error"])
	}
	return decoded, nil
}

func (c *client) getAndPrint(path string, authed bool) error {
	out, err := c.do(http.MethodGet, path, nil, authed)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

// pair drives the interactive pairing flow: start a session, prompt
// for the code shown on the gateway's /pair page, confirm, and persist
// the issued token into the profile.
func (c *client) pair() error {
	start, err := c.do(http.MethodPost, "/api/pair/start", map[string]any{}, false)
	if err != nil {
		return err
	}
	fmt.Printf("Pairing started (%v). Read the code from %s/pair\n", start["codeHint"], c.profile.BaseURL)
	fmt.Print("Code: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return fmt.Errorf("no code entered")
	}
	code := strings.TrimSpace(scanner.Text())

	host, _ := os.Hostname()
	confirm, err := c.do(http.MethodPost, "/api/pair/confirm", map[string]any{
		"pairingId":  start["pairingId"],
		"code":       code,
		"deviceName": "spaceduckctl@" + host,
	}, false)
	if err != nil {
		return err
	}

	token, _ := confirm["token"].(string)
	if token == "" {
		return fmt.Errorf("pairing failed: %v", confirm)
	}
	c.profile.Token = token
	if err := saveProfile(c.profile); err != nil {
		return fmt.Errorf("token issued but profile write failed: %w", err)
	}
	fmt.Printf("Paired with %v (%v). Token saved to %s\n", confirm["gatewayName"], confirm["gatewayId"], profilePath())
	return nil
}

func (c *client) configCmd(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: spaceduckctl config <get|set>")
	}
	switch args[0] {
	case "get":
		return c.getAndPrint("/api/config", true)
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: spaceduckctl config set <path> <json-value>")
		}
		return c.configSet(args[1], args[2])
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

// configSet reads the current revision, then issues a single-op PATCH
// gated on it. A concurrent writer surfaces as the server's CONFLICT
// response rather than a silent overwrite.
func (c *client) configSet(path, rawValue string) error {
	current, err := c.do(http.MethodGet, "/api/config", nil, true)
	if err != nil {
		return err
	}
	rev, _ := current["rev"].(string)

	var value any
	if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
		// Bare words are accepted as strings for convenience.
		value = rawValue
	}

	raw, _ := json.Marshal([]map[string]any{{"op": "replace", "path": path, "value": value}})
	req, err := http.NewRequest(http.MethodPatch, c.profile.BaseURL+"/api/config", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.profile.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("If-Match", rev)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("PATCH /api/config: HTTP %d: %v", resp.StatusCode, decoded)
	}
	return printJSON(decoded)
}

func (c *client) tasksCmd(args []string) error {
	if len(args) == 0 || args[0] == "list" {
		path := "/api/tasks"
		if len(args) == 2 {
			path += "?status=" + args[1]
		}
		return c.getAndPrint(path, true)
	}
	return fmt.Errorf("unknown tasks subcommand %q", args[0])
}

func (c *client) tokensCmd(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: spaceduckctl tokens <list|revoke>")
	}
	switch args[0] {
	case "list":
		return c.getAndPrint("/api/tokens", true)
	case "revoke":
		if len(args) != 2 {
			return fmt.Errorf("usage: spaceduckctl tokens revoke <id>")
		}
		out, err := c.do(http.MethodPost, "/api/tokens/revoke", map[string]any{"id": args[1]}, true)
		if err != nil {
			return err
		}
		return printJSON(out)
	default:
		return fmt.Errorf("unknown tokens subcommand %q", args[0])
	}
}
