package main

import (
	"log"

	"tixvibe/internal/payments/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("payments service: %v", err)
	}
}
