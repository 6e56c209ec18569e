package main

import (
	"os"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
