/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// feedctl is an interactive client for a running orderfeedd: subscribe to
// the update channels, run order searches, and inspect feed health.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:          "feedctl",
		Short:        "interactive client for orderfeedd",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return repl(newClient(addr))
		},
	}
	root.Flags().StringVarP(&addr, "addr", "a", "localhost:8087", "orderfeedd host:port")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func repl(c *client) error {
	// Setup readline with command completion
	completer := readline.NewPrefixCompleter(
		readline.PcItem("subscribe",
			readline.PcItem("instant"),
			readline.PcItem("batched"),
		),
		readline.PcItem("search"),
		readline.PcItem("recent"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "feed> ",
		HistoryFile:     "/tmp/feedctl_history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("creating readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "subscribe":
			handleSubscribe(c, parts)
		case "search":
			handleSearch(c, parts)
		case "recent":
			handleRecent(c, parts)
		case "status":
			handleStatus(c)
		case "help":
			displayHelp()
		case "exit":
			return nil
		default:
			fmt.Println("Unknown command. Type 'help' for available commands.")
		}
	}
}

func handleSubscribe(c *client, parts []string) {
	if len(parts) < 2 {
		fmt.Print(`Usage: subscribe <instant|batched> [count]

Examples:
  subscribe instant         - Print the next 10 instant updates
  subscribe batched 5       - Print the next 5 batched frames
`)
		return
	}

	channel := strings.ToLower(parts[1])
	if channel != "instant" && channel != "batched" {
		fmt.Println("Error: Channel must be 'instant' or 'batched'")
		return
	}

	count := 10
	if len(parts) >= 3 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n <= 0 {
			fmt.Println("Error: Count must be a positive integer")
			return
		}
		count = n
	}

	if err := c.stream(channel, count); err != nil {
		fmt.Printf("Subscribe failed: %v\n", err)
	}
}

func handleSearch(c *client, parts []string) {
	if len(parts) < 4 {
		fmt.Print(`Usage: search <symbol> <bid|ask> <price> [tolerance]

Examples:
  search BTC bid 64000.5           - Find a bid at exactly 64000.5
  search ETH ask 3150 0.5          - Find an ask within 0.5 of 3150
`)
		return
	}

	symbol := parts[1]
	side := strings.ToLower(parts[2])
	if side != "bid" && side != "ask" {
		fmt.Println("Error: Side must be 'bid' or 'ask'")
		return
	}

	price, err := strconv.ParseFloat(parts[3], 64)
	if err != nil || price <= 0 {
		fmt.Println("Error: Price must be a positive number")
		return
	}

	tolerance := 0.0
	if len(parts) >= 5 {
		tolerance, err = strconv.ParseFloat(parts[4], 64)
		if err != nil || tolerance < 0 {
			fmt.Println("Error: Tolerance must be a non-negative number")
			return
		}
	}

	result, err := c.search(symbol, side, price, tolerance)
	if err != nil {
		fmt.Printf("Search failed: %v\n", err)
		return
	}
	displaySearchResult(result)
}

func handleRecent(c *client, parts []string) {
	symbol := ""
	limit := 20
	for _, arg := range parts[1:] {
		if n, err := strconv.Atoi(arg); err == nil {
			limit = n
		} else {
			symbol = arg
		}
	}

	orders, err := c.recent(symbol, limit)
	if err != nil {
		fmt.Printf("Recent failed: %v\n", err)
		return
	}
	if len(orders) == 0 {
		fmt.Println("No recent updates")
		return
	}
	displayOrders(orders)
}

func handleStatus(c *client) {
	status, err := c.status()
	if err != nil {
		fmt.Printf("Status failed: %v\n", err)
		return
	}
	displayStatus(status)
}

func displayHelp() {
	fmt.Print(`Available commands:

  subscribe <instant|batched> [count]   - Stream updates from one channel
  search <symbol> <bid|ask> <price> [tolerance]
                                        - Find an order near a price
  recent [symbol] [limit]               - Show recent admitted updates
  status                                - Show feed health
  help                                  - This message
  exit                                  - Quit
`)
}
