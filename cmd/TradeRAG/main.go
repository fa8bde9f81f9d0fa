package main

import "TradeRAG/internal/cli"

func main() {
	cli.Execute()
}
