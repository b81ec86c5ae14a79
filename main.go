package main

import (
	"github.com/spf13/cobra"

	"github.com/wfunc/geoguess/logger"
)

const releaseVersion = "0.4.0"

func main() {
	defer logger.Sync()
	cobra.CheckErr(newRootCmd().Execute())
}
