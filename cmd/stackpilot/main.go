package main

import (
	"log"

	"github.com/MrSnakeDoc/stackpilot/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ stackpilot failed to initialize: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ stackpilot failed to start: %v", err)
	}
}
