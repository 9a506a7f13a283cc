package main

import (
	"fmt"
	"os"

	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/fota/cmd/cpeer-fota-agent/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewFotaAgentCommand(ctx).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
