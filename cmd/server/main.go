package main

import "clientray/internal/app"

func main() {
	app.Run()
}
