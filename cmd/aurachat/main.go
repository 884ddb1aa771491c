package main

import (
	"log"

	"github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
