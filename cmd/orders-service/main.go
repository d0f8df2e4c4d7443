package main

import (
	"log"

	"tixvibe/internal/orders/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("orders service: %v", err)
	}
}
