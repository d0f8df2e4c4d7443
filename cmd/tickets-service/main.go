package main

import (
	"log"

	"tixvibe/internal/tickets/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("tickets service failed: %v", err)
	}
}
