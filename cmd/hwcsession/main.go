package main

import (
	"github.com/matjam/hwcsession/internal/cli"
)

func main() {
	cli.Execute()
}
