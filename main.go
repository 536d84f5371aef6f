package main

import "github.com/dgarduno-ZAPATA/tono-gateway/cmd"

func main() {
	cmd.Execute()
}
