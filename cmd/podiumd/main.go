// Command podiumd is the development backend for podium: the REST API, the realtime relay and seeded demo data.
package main

import (
	"log"

	"podium/cmd/internal/app"
)

func main() {
	if err := app.RunServer(); err != nil {
		log.Fatal(err)
	}
}
