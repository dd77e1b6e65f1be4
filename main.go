package main

import "shukku-list-backend/cmd"

func main() {
	cmd.Run()
}
