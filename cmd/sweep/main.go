// Command sweep runs parameter sweeps over study files.
package main

import (
	"os"

	"github.com/banshee-data/paramsweep/internal/version"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Errorf("%s: %v", version.Producer(), err)
		os.Exit(1)
	}
}
