package main

import (
	"os"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/khdc-me/twine/cmd/twine/cli"
)

func main() {
	logger := log.NewLogger()
	if err := cli.NewRoot(logger).Execute(); err != nil {
		logger.Errorf(err.Error())
		os.Exit(1)
	}
}
