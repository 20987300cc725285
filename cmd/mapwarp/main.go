package main

import "github.com/MeKo-Tech/mapwarp/cmd/mapwarp/cmd"

func main() {
	cmd.Execute()
}
