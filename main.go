package main

import "github.com/agentflow-dev/sessionbus/internal/cli"

func main() {
	cli.Execute()
}
