package main

import (
	"github.com/joho/godotenv"

	"github.com/hasanabuzayed/openagent/internal/cli"
)

func main() {
	// Optional; settings also come straight from the environment.
	_ = godotenv.Load()

	cli.Execute()
}
