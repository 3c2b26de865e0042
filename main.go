package main

import "github.com/oktamcp/mcp-okta/cmd"

func main() {
	cmd.Execute()
}
