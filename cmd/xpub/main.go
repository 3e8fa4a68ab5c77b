// Command xpub makes the words of an ePub clickable for translation and
// pronunciation, or serves the same conversion over HTTP.
package main

import (
	"context"
	"os"

	"github.com/foomprep/lang-learn-tools/internal/config"
)

func main() {
	if err := newRootCmd(config.Load()).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
