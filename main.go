package main

import (
	"os"

	"github.com/pixia-chat/pixia/ui/startup"
)

func main() {
	os.Exit(startup.Startup())
}
