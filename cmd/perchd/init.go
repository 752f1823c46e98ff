// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// runInit handles the "perchd init" command, generating a perch.hjson
// scoped to the broker's config schema. Trimmed from the teacher's
// wizard, which additionally prompted for services, a build workflow,
// and log format — none of which exist in this config.
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: perchd init [options]

Create a new perch.hjson configuration file in the current directory.

Options:
  -h, -help    Show this help message`)
		return nil
	}

	configFile := "perch.hjson"
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Perch Configuration Setup")
	fmt.Println("=========================")
	fmt.Println()
	fmt.Println("This will create a perch.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	portStr := prompt(reader, "Server port", "8765")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 8765
	}

	host := prompt(reader, "Server host", "127.0.0.1")

	tokenPrompt := prompt(reader, "Bearer token required from non-localhost clients (empty to disable)", "")

	content := generateConfig(host, port, tokenPrompt)
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit perch.hjson as needed")
	fmt.Println("  2. Run: ./perchd")
	fmt.Printf("  3. Point a client at http://%s:%d\n", host, port)
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(host string, port int, token string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Perch Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).

  version: "1.0"

  // -----------------------------------------------------------------------------
  // Server: the HTTP+WebSocket listener serving the chat API.
  // -----------------------------------------------------------------------------
  server: {
`)
	fmt.Fprintf(&sb, "    host: %q\n", host)
	fmt.Fprintf(&sb, "    port: %d\n", port)
	sb.WriteString(`    // tls_cert: "/path/to/cert.pem"
    // tls_key: "/path/to/key.pem"
  }

  // -----------------------------------------------------------------------------
  // Logging: ambient stdlib log output.
  // -----------------------------------------------------------------------------
  logging: {
    level: "info"
    format: "text"
  }

  // -----------------------------------------------------------------------------
  // Store: where the durable transcript database lives.
  // -----------------------------------------------------------------------------
  store: {
    data_dir: ".perch"
  }

  // -----------------------------------------------------------------------------
  // Auth: bearer-token gate for non-localhost clients.
  // -----------------------------------------------------------------------------
  auth: {
`)
	if token != "" {
		fmt.Fprintf(&sb, "    token: %q\n", escapeHJSONValue(token))
		sb.WriteString("    allow_localhost: true\n")
	} else {
		sb.WriteString(`    token: ""
    allow_localhost: true
`)
	}
	sb.WriteString(`    exempt_paths: []
  }

  // -----------------------------------------------------------------------------
  // Adapters: per-tool settings. perchd parses this section but does not
  // apply it; cursor-agent/claude/gemini are always probed on PATH.
  // -----------------------------------------------------------------------------
  adapters: {
    cursor_agent: {}
    claude: {}
    gemini: {}
  }
}
`)

	return sb.String()
}
