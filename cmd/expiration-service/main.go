package main

import (
	"log"

	"tixvibe/internal/expiration/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("expiration service: %v", err)
	}
}
